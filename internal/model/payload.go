package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

var ErrPayloadMismatch = errors.New("payload does not match message kind")

// Payload is the structured part of a message. Each kind has exactly one payload type;
// text messages carry none.
type Payload interface {
	Kind() MessageKind
	Validate() error
}

type ImagePayload struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (ImagePayload) Kind() MessageKind { return MessageKindImage }

func (p ImagePayload) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return errors.New("image url is required")
	}
	return nil
}

type SystemEvent string

const (
	SystemEventTransactionCreated   SystemEvent = "transaction_created"
	SystemEventTransactionCompleted SystemEvent = "transaction_completed"
	SystemEventTransactionCancelled SystemEvent = "transaction_cancelled"
	SystemEventPaymentLinkCreated   SystemEvent = "payment_link_created"
)

type SystemPayload struct {
	Event         SystemEvent `json:"event"`
	TransactionID uint64      `json:"transactionId,omitempty"`
	Amount        int64       `json:"amount,omitempty"`
	Status        string      `json:"status,omitempty"`
}

func (SystemPayload) Kind() MessageKind { return MessageKindSystem }

func (p SystemPayload) Validate() error {
	if p.Event == "" {
		return errors.New("system event is required")
	}
	return nil
}

// ItemReferencePayload is a preview of a catalog item, filled from the catalog at send time.
type ItemReferencePayload struct {
	ItemID       uint64  `json:"itemId"`
	Title        string  `json:"title"`
	Price        uint    `json:"price"`
	ThumbnailURL *string `json:"thumbnailUrl,omitempty"`
}

func (ItemReferencePayload) Kind() MessageKind { return MessageKindItemReference }

func (p ItemReferencePayload) Validate() error {
	if p.ItemID == 0 {
		return errors.New("item id is required")
	}
	return nil
}

func EncodePayload(kind MessageKind, p Payload) (datatypes.JSON, error) {
	if p == nil {
		if kind == MessageKindText {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s requires a payload", ErrPayloadMismatch, kind)
	}
	if p.Kind() != kind {
		return nil, fmt.Errorf("%w: got %s payload for %s", ErrPayloadMismatch, p.Kind(), kind)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func DecodePayload(kind MessageKind, raw datatypes.JSON) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p Payload
	switch kind {
	case MessageKindImage:
		var v ImagePayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case MessageKindSystem:
		var v SystemPayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case MessageKindItemReference:
		var v ItemReferencePayload
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: %s carries no payload", ErrPayloadMismatch, kind)
	}
	return p, nil
}

func (m Message) DecodedPayload() (Payload, error) {
	return DecodePayload(m.Kind, m.Payload)
}
