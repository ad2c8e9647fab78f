package yuvln

import (
	"context"
	"fmt"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/lightninglabs/lndclient"
)

// LndInvoiceDecoder decodes BOLT 11 payment requests through lnd.
type LndInvoiceDecoder struct {
	lnd *lndclient.LndServices
}

// NewLndInvoiceDecoder creates a new decoder backed by the given lnd
// services.
func NewLndInvoiceDecoder(lnd *lndclient.LndServices) *LndInvoiceDecoder {
	return &LndInvoiceDecoder{
		lnd: lnd,
	}
}

// DecodeInvoice decodes a payment request. Without a pixel the request pays
// the encoded base currency amount, with one it pays the pixel.
func (l *LndInvoiceDecoder) DecodeInvoice(ctx context.Context, payReq string,
	pixel *chroma.Pixel) (*payments.Invoice, error) {

	req, err := l.lnd.Client.DecodePaymentRequest(ctx, payReq)
	if err != nil {
		return nil, fmt.Errorf("unable to decode payment request: %w",
			err)
	}

	inv := &payments.Invoice{
		Dest:   req.Destination,
		Hash:   req.Hash,
		Amount: uint64(req.Value),
		Chroma: chroma.None,
	}
	// The pinned lndclient carries lnd's relative expiry (in seconds) as
	// time.Unix(expiry, 0).
	if !req.Expiry.IsZero() && req.Expiry.Unix() > 0 {
		inv.Expiry = req.Timestamp.Add(
			time.Duration(req.Expiry.Unix()) * time.Second,
		)
	}

	if pixel != nil {
		inv.Amount = pixel.Luma
		inv.Chroma = pixel.Chroma
	}

	if inv.Amount == 0 {
		return nil, fmt.Errorf("%w: payment request has no amount",
			payments.ErrInvalidPayment)
	}

	yuvLog.Debugf("Decoded payment request to %v: %d %v", inv.Dest,
		inv.Amount, inv.Chroma.Short())

	return inv, nil
}

// A compile time assertion to ensure LndInvoiceDecoder meets the
// payments.InvoiceDecoder interface.
var _ payments.InvoiceDecoder = (*LndInvoiceDecoder)(nil)
