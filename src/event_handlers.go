package main

import (
	"net/http"
	"ticketing/src/boot"
	"ticketing/src/config"
	"ticketing/src/models"
	"ticketing/src/types"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ownsPartner reports whether the caller may act for partnerID. Tokens
// without a partner are platform admins.
func ownsPartner(ctx *gin.Context, partnerID uint) bool {
	p := ctx.GetUint("partner_id")
	return p == 0 || p == partnerID
}

func eventHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/events/", func(ctx *gin.Context) {
			var body types.CreateEventRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if !ownsPartner(ctx, body.PartnerID) {
				ctx.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
				return
			}
			date, err := time.Parse(config.TIME_PARSE_FORMAT, body.Date)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			event := models.Event{
				PartnerID:   body.PartnerID,
				Name:        body.Name,
				Date:        date,
				Location:    body.Location,
				Description: body.Description,
				Category:    body.Category,
				PosterURI:   body.PosterURI,
				State:       types.EVENT_ACTIVE,
				Visible:     true,
			}
			app := boot.GetApp()
			if err := app.Events.Create(ctx.Request.Context(), &event); err != nil {
				respondError(ctx, "Events", err)
				return
			}
			ctx.JSON(http.StatusCreated, event)
		}).
		POST("/ticket-types/", func(ctx *gin.Context) {
			var body types.CreateTicketTypeRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			app := boot.GetApp()
			event, err := app.Events.Get(ctx.Request.Context(), body.EventID)
			if err != nil {
				respondError(ctx, "TicketTypes", err)
				return
			}
			if !ownsPartner(ctx, event.PartnerID) {
				ctx.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
				return
			}
			tt := models.TicketType{
				EventID:  body.EventID,
				Name:     body.Name,
				Price:    body.Price,
				Stock:    body.Stock,
				UseLimit: body.UseLimit,
				Active:   true,
				Visible:  true,
			}
			if err := app.TicketTypes.Create(ctx.Request.Context(), &tt); err != nil {
				respondError(ctx, "TicketTypes", err)
				return
			}
			ctx.JSON(http.StatusCreated, tt)
		}).
		POST("/promos/event/", func(ctx *gin.Context) {
			body, fields, ok := bindPromo(ctx)
			if !ok {
				return
			}
			app := boot.GetApp()
			event, err := app.Events.Get(ctx.Request.Context(), body.TargetID)
			if err != nil {
				respondError(ctx, "Promos", err)
				return
			}
			if event.PartnerID != body.PartnerID {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "event belongs to another partner"})
				return
			}
			promo := models.EventPromo{EventID: event.ID, PromoFields: fields}
			if err := app.EventPromos.Create(ctx.Request.Context(), &promo); err != nil {
				respondError(ctx, "Promos", err)
				return
			}
			ctx.JSON(http.StatusCreated, promo)
		}).
		POST("/promos/ticket-type/", func(ctx *gin.Context) {
			body, fields, ok := bindPromo(ctx)
			if !ok {
				return
			}
			app := boot.GetApp()
			tt, err := app.TicketTypes.Get(ctx.Request.Context(), body.TargetID, "Event")
			if err != nil {
				respondError(ctx, "Promos", err)
				return
			}
			if tt.Event == nil || tt.Event.PartnerID != body.PartnerID {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "ticket type belongs to another partner"})
				return
			}
			promo := models.TicketTypePromo{TicketTypeID: tt.ID, PromoFields: fields}
			if err := app.TicketTypePromos.Create(ctx.Request.Context(), &promo); err != nil {
				respondError(ctx, "Promos", err)
				return
			}
			ctx.JSON(http.StatusCreated, promo)
		})
	return g
}

func bindPromo(ctx *gin.Context) (*types.CreatePromoRequestBody, models.PromoFields, bool) {
	var body types.CreatePromoRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, models.PromoFields{}, false
	}
	if !ownsPartner(ctx, body.PartnerID) {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return nil, models.PromoFields{}, false
	}
	expiry, err := time.Parse(time.DateOnly, body.Expiry)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, models.PromoFields{}, false
	}
	return &body, models.PromoFields{
		PartnerID: body.PartnerID,
		Name:      body.Name,
		Rate:      decimal.NewFromFloat(body.Rate).Round(2),
		Expiry:    expiry,
		UseLimit:  body.UseLimit,
	}, true
}
