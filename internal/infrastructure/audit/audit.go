// Package audit stores payment events for operators to search.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/oksasatya/pix-license-api/internal/domain/entity"
)

// Mapping keeps ids as keywords so operators can filter on exact charge,
// payment and user ids.
var Mapping = []byte(`{
  "mappings": {
    "properties": {
      "event":      {"type": "keyword"},
      "chargeId":   {"type": "keyword"},
      "paymentId":  {"type": "keyword"},
      "userId":     {"type": "keyword"},
      "outcome":    {"type": "keyword"},
      "source":     {"type": "keyword"},
      "detail":     {"type": "text"},
      "receivedAt": {"type": "date"}
    }
  }
}`)

// ESLog indexes records into one Elasticsearch index.
type ESLog struct {
	es    *elasticsearch.Client
	index string
}

func NewESLog(es *elasticsearch.Client, index string) *ESLog {
	return &ESLog{es: es, index: index}
}

func (l *ESLog) Record(ctx context.Context, rec entity.PaymentEventRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	res, err := l.es.Index(l.index, bytes.NewReader(body), l.es.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index payment event: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return fmt.Errorf("index payment event: %s", res.Status())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source entity.PaymentEventRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a query_string search, newest first. An empty query matches all.
func (l *ESLog) Search(ctx context.Context, q string, size int) ([]entity.PaymentEventRecord, error) {
	if size <= 0 || size > 200 {
		size = 50
	}
	query := map[string]any{"match_all": map[string]any{}}
	if strings.TrimSpace(q) != "" {
		query = map[string]any{"query_string": map[string]any{"query": q}}
	}
	body, _ := json.Marshal(map[string]any{
		"query": query,
		"size":  size,
		"sort":  []any{map[string]any{"receivedAt": map[string]any{"order": "desc", "unmapped_type": "date"}}},
	})
	res, err := l.es.Search(
		l.es.Search.WithContext(ctx),
		l.es.Search.WithIndex(l.index),
		l.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search payment events: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("search payment events: %s: %s", res.Status(), raw)
	}
	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]entity.PaymentEventRecord, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

// MemoryLog keeps records in process; used when Elasticsearch is not configured.
type MemoryLog struct {
	mu      sync.Mutex
	records []entity.PaymentEventRecord
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Record(_ context.Context, rec entity.PaymentEventRecord) error {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return nil
}

// Search does a case-insensitive substring match over event, ids and outcome.
func (l *MemoryLog) Search(_ context.Context, q string, size int) ([]entity.PaymentEventRecord, error) {
	if size <= 0 {
		size = 50
	}
	q = strings.ToLower(strings.TrimSpace(q))
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []entity.PaymentEventRecord
	for i := len(l.records) - 1; i >= 0 && len(out) < size; i-- {
		r := l.records[i]
		hay := strings.ToLower(strings.Join([]string{r.Event, r.ChargeID, r.PaymentID, r.UserID, r.Outcome}, " "))
		if q == "" || strings.Contains(hay, q) {
			out = append(out, r)
		}
	}
	return out, nil
}
