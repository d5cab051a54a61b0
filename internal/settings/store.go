// Package settings implements the external key/value settings collaborator
// spec.md §9's design note calls for: a place to persist a Config snapshot.
// The Manager (C9) neither reads nor writes it; external callers use it.
//
// Adapted from the teacher's aztable.go: the same entity-sharding shape
// (binary data split across Edm.Binary properties, since a single Azure
// Table property caps out at 64 KiB) generalized from framing a connection
// handshake/token exchange to storing one JSON Config blob per project
// title.
package settings

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// ErrNotFound is returned when no settings snapshot exists for a key.
var ErrNotFound = errors.New("settings: not found")

// Store is the external settings collaborator's contract: get/put/delete a
// named JSON snapshot. The Manager does not call it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const (
	maxBinaryPropertySize = 64 * 1024
	maxProperties         = 15
	partitionKey          = "settings"
)

var dataKeys = [maxProperties]string{
	"Data", "Data01", "Data02", "Data03", "Data04", "Data05", "Data06",
	"Data07", "Data08", "Data09", "Data10", "Data11", "Data12", "Data13", "Data14",
}

// TableStore is the aztables-backed Store implementation.
type TableStore struct {
	client *aztables.Client
}

// NewTableStore wraps an existing aztables client. Table creation/SAS
// bootstrap is the caller's responsibility — unlike the ingestion
// transports, the settings store is not part of the reconnect-managed
// dataplane.
func NewTableStore(client *aztables.Client) *TableStore {
	return &TableStore{client: client}
}

func rowKey(key string) string {
	return strings.ReplaceAll(strings.ReplaceAll(key, "/", "_"), " ", "_")
}

func (s *TableStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetEntity(ctx, partitionKey, rowKey(key), nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return extractData(resp.Value), nil
}

func (s *TableStore) Put(ctx context.Context, key string, value []byte) error {
	entity, err := buildEntity(rowKey(key), value)
	if err != nil {
		return fmt.Errorf("settings: encode entity: %w", err)
	}
	_, err = s.client.UpsertEntity(ctx, entity, nil)
	return err
}

func (s *TableStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteEntity(ctx, partitionKey, rowKey(key), nil)
	return err
}

func buildEntity(rk string, data []byte) ([]byte, error) {
	m := map[string]any{"PartitionKey": partitionKey, "RowKey": rk}
	for i := 0; i < maxProperties && len(data) > 0; i++ {
		take := min(len(data), maxBinaryPropertySize)
		m[dataKeys[i]] = data[:take]
		m[dataKeys[i]+"@odata.type"] = "Edm.Binary"
		data = data[take:]
	}
	return json.Marshal(m)
}

func extractData(raw []byte) []byte {
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	var out []byte
	for i := 0; i < maxProperties; i++ {
		v, ok := m[dataKeys[i]]
		if !ok {
			break
		}
		s, ok := v.(string)
		if !ok {
			break
		}
		chunk, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			break
		}
		out = append(out, chunk...)
	}
	return out
}
