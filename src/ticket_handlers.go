package main

import (
	"net/http"
	"ticketing/src/boot"
	"ticketing/src/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ticketHandlers are the scanning routes used by gate agents.
func ticketHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/tickets/redeem/:ticket_id/", func(ctx *gin.Context) {
			var params types.RedeemURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			ticket, err := app.Core.Redemption.Redeem(ctx.Request.Context(), params.TicketID, ctx.GetUint("agent_id"))
			if err != nil {
				respondError(ctx, "Redeem", err)
				return
			}
			ctx.JSON(http.StatusOK, ticket)
		}).
		GET("/tickets/by/hash/:sig/", func(ctx *gin.Context) {
			var params types.SignatureURIParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			ticket, err := app.Core.Redemption.FindBySignature(ctx.Request.Context(), params.Signature)
			if err != nil {
				respondError(ctx, "Tickets", err)
				return
			}
			ctx.JSON(http.StatusOK, ticket)
		}).
		GET("/tickets/:id/qr", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			png, err := app.Core.Tickets.RenderQR(ctx.Request.Context(), params.ID)
			if err != nil {
				respondError(ctx, "Tickets", err)
				return
			}
			ctx.Data(http.StatusOK, "image/png", png)
		}).
		POST("/people/:id/verify/", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var body types.VerifyOTPRequest
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			ok, err := app.Core.Cart.VerifyOTP(ctx.Request.Context(), params.ID, body.OTP)
			if err != nil {
				respondError(ctx, "People", err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"verified": ok})
		})
	return g
}

func ticketAdminHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.POST("/tickets/", func(ctx *gin.Context) {
		var body types.IssueTicketRequestBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		app := boot.GetApp()
		ticket, err := app.Core.Tickets.IssueOne(ctx.Request.Context(), uuid.MustParse(body.PaymentID), body.TicketTypeID)
		if err != nil {
			respondError(ctx, "Tickets", err)
			return
		}
		ctx.JSON(http.StatusCreated, ticket)
	})
	return g
}
