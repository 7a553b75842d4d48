package etl

import (
	"fmt"
	"strings"

	"github.com/BartekS5/bulkmigrate/pkg/models"
	"github.com/BartekS5/bulkmigrate/pkg/utils"
	"github.com/buger/jsonparser"
)

// TransformerOptions configures document construction.
type TransformerOptions struct {
	IDColumn       string
	PayloadColumn  string
	PropertiesPath []string
	PropertiesCap  int
	Mapping        *models.MappingSchema
}

// Transformer turns raw records into documents. Apart from the anomaly log
// and the type registry it has no side effects, so one transformer can be
// used from several goroutines.
type Transformer struct {
	opts      TransformerOptions
	registry  *TypeRegistry
	anomalies *AnomalyLog
}

func NewTransformer(opts TransformerOptions, registry *TypeRegistry, anomalies *AnomalyLog) *Transformer {
	if opts.PropertiesCap <= 0 {
		opts.PropertiesCap = 60
	}
	return &Transformer{opts: opts, registry: registry, anomalies: anomalies}
}

// Registry returns the type registry the transformer resolves keys against.
func (t *Transformer) Registry() *TypeRegistry { return t.registry }

// Anomalies returns the shared anomaly log.
func (t *Transformer) Anomalies() *AnomalyLog { return t.anomalies }

// metadataFallbacks are read from the top level of the payload and replace
// the CSV column of the same name when present.
var metadataFallbacks = []string{
	models.FieldName, models.FieldImage, models.FieldVideo, models.FieldAnimationURL, models.FieldDescription,
}

// Transform builds the document for one record. It always returns a
// document; problems are written to the anomaly log.
func (t *Transformer) Transform(rec models.RawRecord) models.Document {
	doc := models.Document{
		ID:    strings.TrimSpace(rec.Value(t.opts.IDColumn)),
		Index: rec.Index,
	}

	// 1. Fixed columns
	copyColumns(&doc, rec)
	if doc.ID == "" {
		t.record(Anomaly{Kind: AnomalyMissingIdentifier, Index: rec.Index, Detail: fmt.Sprintf("column %q is empty", t.opts.IDColumn)})
	}

	// 2. Payload
	payload := rec.Value(t.opts.PayloadColumn)
	doc.RawPayload = payload
	if s := strings.TrimSpace(payload); s == "" || s == "null" {
		return doc
	}
	data := []byte(payload)

	obj, found, err := parsePayload(data, t.opts.PropertiesPath)
	if err != nil {
		t.record(Anomaly{Kind: AnomalyPayloadUnparsable, Index: rec.Index, DocumentID: doc.ID, Detail: err.Error()})
		return doc
	}
	t.applyMetadataFallbacks(&doc, data)
	if !found {
		return doc
	}

	entries, err := scanObject(obj)
	if err != nil {
		t.record(Anomaly{Kind: AnomalyPayloadUnparsable, Index: rec.Index, DocumentID: doc.ID, Detail: err.Error()})
		return doc
	}

	// 3. Properties
	doc.Properties = t.extract(&doc, entries)

	// 4. Collection-specific promotion
	if doc.TokenAddress != nil {
		if c, ok := t.opts.Mapping.Lookup(*doc.TokenAddress); ok {
			doc.Promoted = t.promote(&doc, c, obj)
		}
	}
	return doc
}

type propGroup struct {
	key    string
	values []propValue
}

// extract groups payload members by key in arrival order, collapses
// duplicates, enforces the registry and the cap.
func (t *Transformer) extract(doc *models.Document, entries []payloadEntry) map[string]any {
	var order []*propGroup
	groups := make(map[string]*propGroup, len(entries))

	for _, e := range entries {
		v, status := classify(e.value, e.dataType)
		switch status {
		case valueOmitted:
			continue
		case valueNested:
			t.record(Anomaly{Kind: AnomalyNestedValue, Index: doc.Index, DocumentID: doc.ID, Key: e.key, Detail: "nested object skipped", Dropped: 1})
			continue
		}
		g, ok := groups[e.key]
		if !ok {
			g = &propGroup{key: e.key}
			groups[e.key] = g
			order = append(order, g)
		}
		g.values = append(g.values, v)
	}

	props := make(map[string]any, min(len(order), t.opts.PropertiesCap))
	var capped []string
	for _, g := range order {
		v, ok := collapse(g.values)
		if !ok {
			t.record(Anomaly{
				Kind: AnomalyMixedDuplicate, Index: doc.Index, DocumentID: doc.ID, Key: g.key,
				Detail: "duplicate key with mixed value types", Dropped: len(g.values),
			})
			continue
		}
		if len(props) >= t.opts.PropertiesCap {
			capped = append(capped, g.key)
			continue
		}
		registered, ok := t.registry.Resolve(g.key, v.kind)
		if !ok {
			t.record(Anomaly{
				Kind: AnomalyTypeMismatch, Index: doc.Index, DocumentID: doc.ID, Key: g.key,
				Detail: fmt.Sprintf("registered as %s, got %s", registered, v.kind), Dropped: 1,
			})
			continue
		}
		props[g.key] = v.value
	}

	if len(capped) > 0 {
		t.record(Anomaly{
			Kind: AnomalyCapExceeded, Index: doc.Index, DocumentID: doc.ID,
			Detail:  fmt.Sprintf("%d properties dropped over cap of %d: %s", len(capped), t.opts.PropertiesCap, strings.Join(capped, ",")),
			Dropped: len(capped),
		})
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

// collapse turns the values seen for one key into a scalar, or into an array
// when the key repeats with a single kind. Mixed kinds are rejected.
func collapse(values []propValue) (propValue, bool) {
	if len(values) == 1 {
		return values[0], true
	}
	kind := values[0].kind
	arr := make([]any, 0, len(values))
	for _, v := range values {
		if v.kind != kind {
			return propValue{}, false
		}
		arr = append(arr, v.value)
	}
	return propValue{kind: kind, value: arr}, true
}

func (t *Transformer) applyMetadataFallbacks(doc *models.Document, payload []byte) {
	for _, key := range metadataFallbacks {
		v, err := jsonparser.GetString(payload, key)
		if err != nil {
			continue
		}
		s := utils.OptionalString(v)
		if s == nil {
			continue
		}
		switch key {
		case models.FieldName:
			doc.Name = s
		case models.FieldImage:
			doc.Image = s
		case models.FieldVideo:
			doc.Video = s
		case models.FieldAnimationURL:
			doc.AnimationURL = s
		case models.FieldDescription:
			doc.Description = s
		}
	}
}

// promote lifts mapped payload fields onto the document root with the
// configured coercion.
func (t *Transformer) promote(doc *models.Document, c *models.CollectionMapping, obj []byte) map[string]any {
	out := make(map[string]any, len(c.Fields))
	for _, f := range c.Fields {
		raw, dataType, _, err := jsonparser.Get(obj, f.SourceKey())
		if err != nil {
			continue
		}
		v, status := classify(raw, dataType)
		if status != valueScalar {
			continue
		}

		var (
			value any
			cerr  error
		)
		switch f.Type {
		case models.PromoteInteger:
			value, cerr = utils.ConvertToInt(v.value)
		case models.PromoteKeyword:
			var s string
			s, cerr = utils.ConvertToString(v.value)
			value = strings.ToLower(s)
		case models.PromoteText:
			value, cerr = utils.ConvertToString(v.value)
		}
		if cerr != nil {
			t.record(Anomaly{
				Kind: AnomalyPromotionFailed, Index: doc.Index, DocumentID: doc.ID, Key: f.Name,
				Detail: fmt.Sprintf("%s (%s): %v", c.Name, f.Type, cerr),
			})
			continue
		}
		out[f.Name] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (t *Transformer) record(a Anomaly) {
	if t.anomalies != nil {
		t.anomalies.Record(a)
	}
}

func copyColumns(doc *models.Document, rec models.RawRecord) {
	doc.TokenAddress = utils.OptionalString(rec.Value(models.FieldTokenAddress))
	doc.TokenID = utils.OptionalString(rec.Value(models.FieldTokenID))
	doc.Owner = utils.OptionalString(rec.Value(models.FieldOwner))
	doc.Maker = utils.OptionalString(rec.Value(models.FieldMaker))
	doc.Matcher = utils.OptionalString(rec.Value(models.FieldMatcher))
	doc.PaymentToken = utils.OptionalString(rec.Value(models.FieldPaymentToken))
	doc.State = utils.OptionalString(rec.Value(models.FieldState))
	doc.OrderStatus = utils.OptionalString(rec.Value(models.FieldOrderStatus))
	doc.Name = utils.OptionalString(rec.Value(models.FieldName))
	doc.Image = utils.OptionalString(rec.Value(models.FieldImage))
	doc.Video = utils.OptionalString(rec.Value(models.FieldVideo))
	doc.CDNImage = utils.OptionalString(rec.Value(models.FieldCDNImage))
	doc.AnimationURL = utils.OptionalString(rec.Value(models.FieldAnimationURL))
	doc.Description = utils.OptionalString(rec.Value(models.FieldDescription))

	doc.BasePrice = utils.OptionalFloat(rec.Value(models.FieldBasePrice))
	doc.EndedPrice = utils.OptionalFloat(rec.Value(models.FieldEndedPrice))
	doc.Price = utils.OptionalFloat(rec.Value(models.FieldPrice))
	doc.RONPrice = utils.OptionalFloat(rec.Value(models.FieldRONPrice))

	doc.EndedAt = utils.OptionalInt(rec.Value(models.FieldEndedAt))
	doc.ExpiredAt = utils.OptionalInt(rec.Value(models.FieldExpiredAt))
	doc.Kind = utils.OptionalInt(rec.Value(models.FieldKind))
	doc.OrderID = utils.OptionalInt(rec.Value(models.FieldOrderID))
	doc.StartedAt = utils.OptionalInt(rec.Value(models.FieldStartedAt))
	doc.MetadataLastUpdated = utils.OptionalInt(rec.Value(models.FieldMetadataLastUpdated))
	doc.OwnershipBlockNumber = utils.OptionalInt(rec.Value(models.FieldOwnershipBlockNumber))
	doc.OwnershipLogIndex = utils.OptionalInt(rec.Value(models.FieldOwnershipLogIndex))

	doc.IsShown = utils.OptionalBool(rec.Value(models.FieldIsShown))
}
