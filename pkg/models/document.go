package models

// Column and document field names shared by the source and the sinks.
const (
	FieldTokenAddress         = "token_address"
	FieldTokenID              = "token_id"
	FieldOwner                = "owner"
	FieldBasePrice            = "base_price"
	FieldEndedAt              = "ended_at"
	FieldEndedPrice           = "ended_price"
	FieldExpiredAt            = "expired_at"
	FieldKind                 = "kind"
	FieldMaker                = "maker"
	FieldMatcher              = "matcher"
	FieldOrderID              = "order_id"
	FieldPaymentToken         = "payment_token"
	FieldPrice                = "price"
	FieldRONPrice             = "ron_price"
	FieldStartedAt            = "started_at"
	FieldState                = "state"
	FieldOrderStatus          = "order_status"
	FieldName                 = "name"
	FieldImage                = "image"
	FieldVideo                = "video"
	FieldCDNImage             = "cdn_image"
	FieldAnimationURL         = "animation_url"
	FieldDescription          = "description"
	FieldMetadataLastUpdated  = "metadata_last_updated"
	FieldIsShown              = "is_shown"
	FieldOwnershipBlockNumber = "ownership_block_number"
	FieldOwnershipLogIndex    = "ownership_log_index"
	FieldRawMetadata          = "raw_metadata"
	FieldProperties           = "properties"
)

// Document is the typed output of the transformer. Nil pointers are absent
// fields and are left out of the body sent to the sink.
type Document struct {
	ID    string
	Index int64

	TokenAddress *string
	TokenID      *string
	Owner        *string
	Maker        *string
	Matcher      *string
	PaymentToken *string
	State        *string
	OrderStatus  *string
	Name         *string
	Image        *string
	Video        *string
	CDNImage     *string
	AnimationURL *string
	Description  *string

	BasePrice  *float64
	EndedPrice *float64
	Price      *float64
	RONPrice   *float64

	EndedAt              *int64
	ExpiredAt            *int64
	Kind                 *int64
	OrderID              *int64
	StartedAt            *int64
	MetadataLastUpdated  *int64
	OwnershipBlockNumber *int64
	OwnershipLogIndex    *int64

	IsShown *bool

	// Properties holds the extracted payload properties. Values are bool,
	// int64, float64, string, or a []any of one of those.
	Properties map[string]any
	// Promoted holds collection-specific fields lifted onto the document root.
	Promoted map[string]any
	// RawPayload is the payload column exactly as read.
	RawPayload string
}

// Body flattens the document into the field map written to the sink.
func (d *Document) Body() map[string]any {
	body := make(map[string]any, 32+len(d.Promoted))

	putString(body, FieldTokenAddress, d.TokenAddress)
	putString(body, FieldTokenID, d.TokenID)
	putString(body, FieldOwner, d.Owner)
	putString(body, FieldMaker, d.Maker)
	putString(body, FieldMatcher, d.Matcher)
	putString(body, FieldPaymentToken, d.PaymentToken)
	putString(body, FieldState, d.State)
	putString(body, FieldOrderStatus, d.OrderStatus)
	putString(body, FieldName, d.Name)
	putString(body, FieldImage, d.Image)
	putString(body, FieldVideo, d.Video)
	putString(body, FieldCDNImage, d.CDNImage)
	putString(body, FieldAnimationURL, d.AnimationURL)
	putString(body, FieldDescription, d.Description)

	putFloat(body, FieldBasePrice, d.BasePrice)
	putFloat(body, FieldEndedPrice, d.EndedPrice)
	putFloat(body, FieldPrice, d.Price)
	putFloat(body, FieldRONPrice, d.RONPrice)

	putInt(body, FieldEndedAt, d.EndedAt)
	putInt(body, FieldExpiredAt, d.ExpiredAt)
	putInt(body, FieldKind, d.Kind)
	putInt(body, FieldOrderID, d.OrderID)
	putInt(body, FieldStartedAt, d.StartedAt)
	putInt(body, FieldMetadataLastUpdated, d.MetadataLastUpdated)
	putInt(body, FieldOwnershipBlockNumber, d.OwnershipBlockNumber)
	putInt(body, FieldOwnershipLogIndex, d.OwnershipLogIndex)

	if d.IsShown != nil {
		body[FieldIsShown] = *d.IsShown
	}

	// Promoted fields never overwrite the fixed columns.
	for k, v := range d.Promoted {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}

	if len(d.Properties) > 0 {
		body[FieldProperties] = d.Properties
	}
	if d.RawPayload != "" {
		body[FieldRawMetadata] = d.RawPayload
	}
	return body
}

func putString(body map[string]any, key string, v *string) {
	if v != nil {
		body[key] = *v
	}
}

func putFloat(body map[string]any, key string, v *float64) {
	if v != nil {
		body[key] = *v
	}
}

func putInt(body map[string]any, key string, v *int64) {
	if v != nil {
		body[key] = *v
	}
}
