// Command stripe-webhook-sim posts a signed Stripe subscription event to a
// running gateway so plan entitlements can be exercised locally.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/config"
	"github.com/stripe/stripe-go/v79/webhook"
)

const webhookPath = "/api/billing/webhooks/stripe"

func main() {
	var (
		baseURL  = flag.String("base-url", config.String("BASE_URL", "http://localhost:8080"), "gateway base url")
		evtType  = flag.String("type", config.String("STRIPE_EVENT_TYPE", "customer.subscription.updated"), "stripe event type")
		business = flag.String("business-id", config.String("BUSINESS_ID", ""), "business_id metadata")
		tier     = flag.String("tier", config.String("TIER", "starter"), "tier metadata")
		status   = flag.String("status", config.String("SUBSCRIPTION_STATUS", "active"), "subscription status")
		secret   = flag.String("secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if *secret == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*business) == "" {
		fatal("BUSINESS_ID is required")
	}

	now := time.Now().UTC()
	payload, err := buildEventJSON(fmt.Sprintf("evt_test_%d", now.UnixNano()), *evtType, now, *business, *tier, *status)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+webhookPath, bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, businessID, tier, status string) ([]byte, error) {
	switch eventType {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":     "sub_test_" + strings.ReplaceAll(businessID, "-", ""),
				"object": "subscription",
				"status": status,
				"metadata": map[string]any{
					"business_id": businessID,
					"tier":        tier,
				},
			},
		},
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
