package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/yeqown/go-qrcode"
)

// TicketQR is the payload carried by a ticket's QR code.
type TicketQR struct {
	TicketID  uint   `json:"ticket_id"`
	Signature string `json:"signature"`
}

func EncodeTicketQR(ticketID uint, signature string) (string, error) {
	raw, err := json.Marshal(TicketQR{TicketID: ticketID, Signature: signature})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeTicketQR(payload string) (*TicketQR, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	var qr TicketQR
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, err
	}
	if qr.Signature == "" {
		return nil, errors.New("qr payload has no signature")
	}
	return &qr, nil
}

// RenderQRCode draws payload as a PNG image.
func RenderQRCode(payload string) ([]byte, error) {
	qrc, err := qrcode.New(payload, qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := qrc.SaveTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
