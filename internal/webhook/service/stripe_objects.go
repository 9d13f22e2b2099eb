package service

import (
	"encoding/json"
	"strings"
	"time"
)

// stripeRef is an expandable Stripe reference: either the id string or the
// expanded object carrying an id.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = stripeRef(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

func (r stripeRef) String() string { return strings.TrimSpace(string(r)) }

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSubscription struct {
	ID               string            `json:"id"`
	Customer         stripeRef         `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (s stripeSubscription) priceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return strings.TrimSpace(s.Items.Data[0].Price.ID)
}

// periodEnd reads the item level period end first; older API versions only
// carry it on the subscription.
func (s stripeSubscription) periodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd > 0 {
		end = s.Items.Data[0].CurrentPeriodEnd
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

type stripeInvoice struct {
	ID           string    `json:"id"`
	Customer     stripeRef `json:"customer"`
	Subscription stripeRef `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i stripeInvoice) subscriptionID() string {
	if id := i.Subscription.String(); id != "" {
		return id
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return i.Parent.SubscriptionDetails.Subscription.String()
	}
	return ""
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	Customer          stripeRef         `json:"customer"`
	PaymentIntent     stripeRef         `json:"payment_intent"`
	Subscription      stripeRef         `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}
