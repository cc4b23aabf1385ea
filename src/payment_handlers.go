package main

import (
	"io"
	"log"
	"net/http"
	"ticketing/src/boot"
	"ticketing/src/repository"
	"ticketing/src/services"
	"ticketing/src/types"
	"ticketing/src/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func cartFrom(items []types.CartItem, personID *uint, person *types.PersonDescriptor, promo string) services.Cart {
	return services.Cart{Items: items, PersonID: personID, Person: person, Promo: promo}
}

func paymentHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/payments/", func(ctx *gin.Context) {
			var body types.CreatePaymentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			payment, err := app.Core.Payments.Create(ctx.Request.Context(), services.CreatePaymentInput{
				Cart:        cartFrom(body.TicketTypes, body.PersonID, body.Person, body.Promo),
				MadeThrough: body.MadeThrough,
			})
			if err != nil {
				respondError(ctx, "Payments", err)
				return
			}
			ctx.JSON(http.StatusCreated, payment)
		}).
		POST("/payments/intent/", func(ctx *gin.Context) {
			var body types.CreatePaymentIntentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			intent, err := app.Core.Payments.CreateIntent(ctx.Request.Context(), services.CreateIntentInput{
				Cart:        cartFrom(body.TicketTypes, body.PersonID, body.Person, body.Promo),
				CallbackURL: body.CallbackURL,
			})
			if err != nil {
				respondError(ctx, "Payments", err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"id": intent.ID, "redirect_to": intent.RedirectTo})
		}).
		POST("/payments/intent/:id/pay/", func(ctx *gin.Context) {
			var params types.UUIDRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var body types.PayIntentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			payment, err := app.Core.Payments.ConsumeIntent(ctx.Request.Context(), uuid.MustParse(params.ID), body.MadeThrough)
			if err != nil {
				respondError(ctx, "Payments", err)
				return
			}
			ctx.JSON(http.StatusCreated, payment)
		}).
		POST("/payments/callback/", func(ctx *gin.Context) {
			payload, err := io.ReadAll(ctx.Request.Body)
			if err != nil {
				log.Printf("Error reading request body: %s\n", err.Error())
				ctx.Status(http.StatusServiceUnavailable)
				return
			}
			app := boot.GetApp()
			if err := app.Core.Payments.HandleCallback(ctx.Request.Context(), ctx.Query("provider"), payload, ctx.Request.Header); err != nil {
				respondError(ctx, "Callback", err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
		}).
		GET("/payments/:id/", func(ctx *gin.Context) {
			var params types.UUIDRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			payment, err := app.Core.Payments.Get(ctx.Request.Context(), uuid.MustParse(params.ID))
			if err != nil {
				respondError(ctx, "Payments", err)
				return
			}
			ctx.JSON(http.StatusOK, payment)
		})
	return g
}

func paymentAdminHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/payments/", func(ctx *gin.Context) {
			q := utils.NewQuery(ctx.Request.URL.Query())
			filter := repository.PaymentFilter{
				State:    types.PaymentState(q.Enum("state", "PENDING", "PAID", "UNDERPAID", "OVERPAID", "FAILED", "EXPIRED")),
				Provider: types.Provider(q.Enum("provider", string(types.MPESA), string(types.BANK))),
				PersonID: q.Uint("person_id"),
				Verified: q.Bool("verified"),
				From:     q.Date("from"),
				To:       q.Date("to"),
				Page:     q.Int("page", 1, 1, 10000),
				Size:     q.Int("size", 20, 1, 100),
			}
			if err := q.Err(); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			payments, err := app.Repo.ListPayments(ctx.Request.Context(), filter)
			if err != nil {
				respondError(ctx, "Payments", err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": payments, "page": filter.Page, "size": filter.Size})
		}).
		POST("/payments/reconcile/", func(ctx *gin.Context) {
			app := boot.GetApp()
			report, err := app.Core.Payments.Reconcile(ctx.Request.Context())
			if err != nil {
				respondError(ctx, "Reconcile", err)
				return
			}
			ctx.JSON(http.StatusOK, report)
		})
	return g
}
