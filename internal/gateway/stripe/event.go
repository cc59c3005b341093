package stripe

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/storefront/checkout/internal/domain/payment"
)

var errUnexpectedType = errors.New("unexpected json type")

// eventObject is the subset of data.object the reconciler needs.
type eventObject struct {
	ID                string
	Object            string
	OrderID           string
	ClientReferenceID string
	PaymentIntent     string
	FailureMessage    string
}

// parseEvent extracts the event envelope and the fields of data.object
// without binding to a specific API version.
func parseEvent(payload []byte) (*payment.Event, error) {
	var (
		ev  payment.Event
		obj eventObject
	)
	d := jx.DecodeBytes(payload)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return readStr(d, &ev.ID)
		case "type":
			return readStr(d, &ev.RawType)
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "object" {
					return d.Skip()
				}
				return obj.decode(d)
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}

	ev.OrderID = obj.OrderID
	if ev.OrderID == "" {
		ev.OrderID = obj.ClientReferenceID
	}
	ev.PaymentID = obj.PaymentIntent
	if obj.Object == "payment_intent" {
		ev.PaymentID = obj.ID
	}
	ev.FailureMessage = obj.FailureMessage
	return &ev, nil
}

func (o *eventObject) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return readStr(d, &o.ID)
		case "object":
			return readStr(d, &o.Object)
		case "client_reference_id":
			return readStr(d, &o.ClientReferenceID)
		case "metadata":
			return readObj(d, func(d *jx.Decoder, key string) error {
				if key != MetadataOrderID {
					return d.Skip()
				}
				return readStr(d, &o.OrderID)
			})
		case "payment_intent":
			// Either an id or an expanded object.
			if d.Next() == jx.Object {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "id" {
						return d.Skip()
					}
					return readStr(d, &o.PaymentIntent)
				})
			}
			return readStr(d, &o.PaymentIntent)
		case "last_payment_error":
			return readObj(d, func(d *jx.Decoder, key string) error {
				if key != "message" {
					return d.Skip()
				}
				return readStr(d, &o.FailureMessage)
			})
		default:
			return d.Skip()
		}
	})
}

// readStr reads a string, leaving dst untouched on null.
func readStr(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	case jx.Null:
		return d.Null()
	default:
		return errors.Wrapf(errUnexpectedType, "want string, got %s", d.Next())
	}
}

// readObj iterates an object, accepting null.
func readObj(d *jx.Decoder, f func(d *jx.Decoder, key string) error) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.Obj(f)
}
