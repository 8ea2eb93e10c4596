package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"belanjaku/backend/internal/gateway"
	"belanjaku/backend/internal/store"
)

const (
	signatureHeader    = "Gateway-Signature"
	signatureTolerance = 5 * time.Minute
	webhookMarkerTTL   = 24 * time.Hour
)

// webhookEvent is the provider's event envelope. Only the fields the
// reconciler dispatches on are decoded; data.object stays raw until the
// event type picks its shape.
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("unreadable payload"))
		return
	}

	if err := a.verifyWebhookSignature(payload, r.Header.Get(signatureHeader), time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed event: %w", err))
		return
	}
	if event.ID == "" || event.Type == "" {
		writeError(w, http.StatusBadRequest, errors.New("event missing id or type"))
		return
	}

	// Providers redeliver; the marker is a fast-path dedupe only. The
	// handlers behind it are idempotent, so a missed marker is harmless.
	markerKey := "webhook:" + event.ID
	if seen, err := a.marker.Seen(r.Context(), markerKey); err != nil {
		log.Printf("[httpapi] WARN: webhook dedupe lookup failed event=%s: %v", event.ID, err)
	} else if seen {
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		a.webhookSessionCompleted(w, r, event)
	case "charge.refunded":
		a.webhookChargeRefunded(w, r, event)
	case "refund.created", "refund.updated", "charge.refund.updated":
		a.webhookRefundEvent(w, r, event)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
	}
}

func (a *API) webhookSessionCompleted(w http.ResponseWriter, r *http.Request, event webhookEvent) {
	var session gateway.Session
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed session object: %w", err))
		return
	}
	if session.PaymentStatus != gateway.SessionPaid {
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}

	result, err := a.service.ConfirmBySession(r.Context(), session)
	if err != nil {
		var stockErr *store.StockError
		if errors.As(err, &stockErr) {
			// Money moved but the shelf is short. Acknowledge so the
			// provider stops retrying; the shortage is an ops problem.
			a.markWebhookHandled(r, event.ID)
			writeJSON(w, http.StatusOK, map[string]any{
				"received":    true,
				"stock_issue": stockErr.Error(),
			})
			return
		}
		writeServiceError(w, err)
		return
	}

	a.markWebhookHandled(r, event.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"received":     true,
		"already_paid": result.AlreadyPaid,
	})
}

func (a *API) webhookChargeRefunded(w http.ResponseWriter, r *http.Request, event webhookEvent) {
	var charge gateway.Charge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed charge object: %w", err))
		return
	}

	result, err := a.service.SyncRefundsForCharge(r.Context(), charge)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	a.markWebhookHandled(r, event.ID)
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "refunded": result.Refunded})
}

func (a *API) webhookRefundEvent(w http.ResponseWriter, r *http.Request, event webhookEvent) {
	var refund gateway.Refund
	if err := json.Unmarshal(event.Data.Object, &refund); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed refund object: %w", err))
		return
	}

	result, err := a.service.ApplyGatewayRefund(r.Context(), refund)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	a.markWebhookHandled(r, event.ID)
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "refunded": result.Refunded})
}

func (a *API) markWebhookHandled(r *http.Request, eventID string) {
	if err := a.marker.MarkSeen(r.Context(), "webhook:"+eventID, webhookMarkerTTL); err != nil {
		log.Printf("[httpapi] WARN: failed to mark webhook handled event=%s: %v", eventID, err)
	}
}

// verifyWebhookSignature checks the provider's "t=<unix>,v1=<hex>" scheme:
// an HMAC-SHA256 over "<t>.<payload>" keyed with the shared webhook secret.
// The timestamp bounds replay; any one matching v1 entry passes, since the
// provider sends multiple during secret rotation.
func (a *API) verifyWebhookSignature(payload []byte, header string, now time.Time) error {
	if len(a.webhookSecret) == 0 {
		return errors.New("webhook secret not configured")
	}
	if header == "" {
		return errors.New("missing signature header")
	}

	var timestamp int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return errors.New("malformed signature timestamp")
			}
			timestamp = parsed
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == 0 || len(candidates) == 0 {
		return errors.New("malformed signature header")
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return errors.New("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return errors.New("signature mismatch")
}
