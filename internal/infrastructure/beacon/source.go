package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/infrastructure/rawtable"

	"github.com/sirupsen/logrus"
)

const DefaultFunction = "users/galaxy/jc/beacon_api/generate_gre"

var ErrNoContent = errors.New("beacon returned no content")

type rpcCaller interface {
	GetRPC(ctx context.Context, function string, params url.Values) ([]byte, error)
}

// Source implements the raw position source over a Beacon RPC function
// returning {"content": [[header...], [row...], ...]}.
type Source struct {
	rpc      rpcCaller
	function string
	logger   *logrus.Entry
}

func NewSource(rpc rpcCaller, function string, logger *logrus.Logger) *Source {
	if function == "" {
		function = DefaultFunction
	}
	return &Source{
		rpc:      rpc,
		function: function,
		logger:   logger.WithField("component", "beacon_source"),
	}
}

// FetchRawPositions requests the table for asOf. When the dated call fails,
// the undated (latest) table is requested instead.
func (s *Source) FetchRawPositions(ctx context.Context, asOf time.Time) ([]domain.RawRecord, error) {
	params := url.Values{"rpt_date": {asOf.Format("20060102")}}
	body, err := s.rpc.GetRPC(ctx, s.function, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.logger.WithError(err).WithField("rpt_date", params.Get("rpt_date")).Warn("dated beacon call failed, retrying without date")
		body, err = s.rpc.GetRPC(ctx, s.function, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", s.function, err)
		}
	}
	return decodeContent(body)
}

func decodeContent(body []byte) ([]domain.RawRecord, error) {
	var payload struct {
		Content [][]any `json:"content"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode beacon payload: %w", err)
	}
	if len(payload.Content) == 0 {
		return nil, ErrNoContent
	}

	header := payload.Content[0]
	columns := make([]string, len(header))
	for i, h := range header {
		name, ok := h.(string)
		if !ok {
			return nil, fmt.Errorf("beacon header cell %d is %T", i, h)
		}
		columns[i] = name
	}
	return rawtable.Decode(columns, payload.Content[1:], nil)
}
