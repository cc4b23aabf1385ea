package main

import (
	"net/http"
	"ticketing/src/boot"
	"ticketing/src/types"
	"ticketing/src/utils"

	"github.com/gin-gonic/gin"
)

func notificationHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/notifications/", func(ctx *gin.Context) {
			q := utils.NewQuery(ctx.Request.URL.Query())
			channel := q.Enum("channel", string(types.CHANNEL_EMAIL), string(types.CHANNEL_SMS), string(types.CHANNEL_PUSH))
			sent := q.Bool("sent")
			personID := q.Uint("person_id")
			since := q.Date("since")
			page := q.Int("page", 1, 1, 10000)
			size := q.Int("size", 20, 1, 100)
			if err := q.Err(); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var conds [][]any
			if channel != "" {
				conds = append(conds, []any{"channel = ?", channel})
			}
			if sent != nil {
				conds = append(conds, []any{"sent = ?", *sent})
			}
			if personID != nil {
				conds = append(conds, []any{"person_id = ?", *personID})
			}
			if since != nil {
				conds = append(conds, []any{"created_at >= ?", *since})
			}
			app := boot.GetApp()
			items, err := app.Notifications.List(ctx.Request.Context(), page, size, conds...)
			if err != nil {
				respondError(ctx, "Notifications", err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": items, "page": page, "size": size})
		}).
		POST("/jobs/:id/retry/", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			job, err := app.Core.Dispatcher.Retrigger(ctx.Request.Context(), params.ID)
			if err != nil {
				respondError(ctx, "Jobs", err)
				return
			}
			ctx.JSON(http.StatusOK, job)
		})
	return g
}
