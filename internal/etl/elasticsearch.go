package etl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
)

// ElasticsearchSink writes documents with the _bulk API. Each document is an
// index action keyed by _id, which creates or fully replaces it.
type ElasticsearchSink struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchSink(client *elasticsearch.Client, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: client, index: index}
}

type bulkAction struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkMeta struct {
	Index bulkAction `json:"index"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  *bulkItemError `json:"error,omitempty"`
}

type bulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Ping checks cluster health. A red cluster counts as unreachable.
func (s *ElasticsearchSink) Ping(ctx context.Context) error {
	res, err := s.client.Cluster.Health(s.client.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("cluster health: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("cluster health: %s", res.Status())
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode cluster health: %w", err)
	}
	if health.Status == "red" {
		return fmt.Errorf("cluster status is red")
	}
	return nil
}

func (s *ElasticsearchSink) BulkUpsert(ctx context.Context, items []BulkItem) ([]ItemResult, error) {
	results := make([]ItemResult, len(items))
	sent := make([]int, 0, len(items))

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, item := range items {
		body, err := json.Marshal(item.Body)
		if err != nil {
			results[i] = ItemResult{Status: ItemRejected, Reason: fmt.Sprintf("encode document: %v", err)}
			continue
		}
		if err := enc.Encode(bulkMeta{Index: bulkAction{Index: s.index, ID: item.ID}}); err != nil {
			results[i] = ItemResult{Status: ItemRejected, Reason: fmt.Sprintf("encode action: %v", err)}
			continue
		}
		buf.Write(body)
		buf.WriteByte('\n')
		sent = append(sent, i)
	}
	if len(sent) == 0 {
		return results, nil
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("bulk request: %s", res.Status())
	}
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, Permanent(fmt.Errorf("bulk request rejected: %s: %s", res.Status(), bytes.TrimSpace(msg)))
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	if len(br.Items) != len(sent) {
		return nil, fmt.Errorf("bulk response has %d items for %d actions", len(br.Items), len(sent))
	}

	for j, entry := range br.Items {
		i := sent[j]
		var item bulkItemResult
		for _, v := range entry {
			item = v
		}
		switch {
		case item.Status >= 200 && item.Status < 300:
			results[i] = ItemResult{Status: ItemIndexed}
		case item.Status == http.StatusTooManyRequests || item.Status >= 500:
			results[i] = ItemResult{Status: ItemNotAttempted, Reason: itemReason(item)}
		default:
			results[i] = ItemResult{Status: ItemRejected, Reason: itemReason(item)}
		}
	}
	return results, nil
}

func itemReason(item bulkItemResult) string {
	if item.Error == nil {
		return fmt.Sprintf("status %d", item.Status)
	}
	return fmt.Sprintf("%s: %s", item.Error.Type, item.Error.Reason)
}

func (s *ElasticsearchSink) Close(ctx context.Context) error {
	return nil
}
