// Package record implements the Record Model: parsing and validating a
// single firehose record (decision or reward) and projecting it to a
// rewarded decision record (RDR) row.
package record

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/improve-ai/tracker/go/skerr"
	"github.com/improve-ai/tracker/kid"
)

var modelNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Type discriminates the two firehose record variants.
type Type string

const (
	Decision Type = "decision"
	Reward   Type = "reward"
)

// Record is a typed, validated firehose record.
type Record struct {
	MessageID kid.ID
	Timestamp time.Time
	Model     string
	Type      Type

	// Decision fields, populated iff Type == Decision.
	Variant   interface{}
	Givens    map[string]interface{}
	Count     int64
	RunnersUp []interface{}
	Sample    interface{}
	HasSample bool

	// Reward fields, populated iff Type == Reward.
	DecisionID kid.ID
	Reward     float64
}

type wireRecord struct {
	MessageID  string          `json:"message_id"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Type       string          `json:"type"`
	Model      string          `json:"model"`
	DecisionID string          `json:"decision_id"`
	Reward     *float64        `json:"reward"`
	Variant    json.RawMessage `json:"variant"`
	Givens     json.RawMessage `json:"givens"`
	Count      *int64          `json:"count"`
	RunnersUp  json.RawMessage `json:"runners_up"`
	Sample     json.RawMessage `json:"sample"`
}

// Parse validates data as one JSON-encoded firehose record and returns its
// typed representation.
func Parse(data []byte) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, skerr.Wrapf(err, "record: invalid json")
	}

	if w.MessageID == "" {
		return nil, skerr.Fmt("record: missing message_id")
	}
	messageID, err := kid.Parse(w.MessageID)
	if err != nil {
		return nil, skerr.Wrapf(err, "record: invalid message_id")
	}

	if w.Type != string(Decision) && w.Type != string(Reward) {
		return nil, skerr.Fmt("record: invalid type %q", w.Type)
	}

	if !modelNameRE.MatchString(w.Model) {
		return nil, skerr.Fmt("record: invalid model %q", w.Model)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return nil, skerr.Wrapf(err, "record: invalid timestamp")
	}

	r := &Record{
		MessageID: messageID,
		Timestamp: ts,
		Model:     w.Model,
		Type:      Type(w.Type),
	}

	switch r.Type {
	case Reward:
		if w.DecisionID == "" {
			return nil, skerr.Fmt("record: missing decision_id")
		}
		decisionID, err := kid.Parse(w.DecisionID)
		if err != nil {
			return nil, skerr.Wrapf(err, "record: invalid decision_id")
		}
		r.DecisionID = decisionID
		if w.Reward == nil {
			return nil, skerr.Fmt("record: missing reward")
		}
		r.Reward = *w.Reward

	case Decision:
		if len(w.Variant) > 0 {
			if err := json.Unmarshal(w.Variant, &r.Variant); err != nil {
				return nil, skerr.Wrapf(err, "record: invalid variant")
			}
		}

		if len(w.Givens) > 0 {
			if err := json.Unmarshal(w.Givens, &r.Givens); err != nil {
				return nil, skerr.Wrapf(err, "record: invalid givens")
			}
		}

		if w.Count == nil || *w.Count < 1 {
			return nil, skerr.Fmt("record: invalid count")
		}
		r.Count = *w.Count

		if len(w.RunnersUp) > 0 {
			if err := json.Unmarshal(w.RunnersUp, &r.RunnersUp); err != nil {
				return nil, skerr.Wrapf(err, "record: invalid runners_up")
			}
			if len(r.RunnersUp) == 0 {
				return nil, skerr.Fmt("record: invalid runners_up")
			}
		}

		r.HasSample = len(w.Sample) > 0
		if r.HasSample {
			if err := json.Unmarshal(w.Sample, &r.Sample); err != nil {
				return nil, skerr.Wrapf(err, "record: invalid sample")
			}
		}

		samplePoolSize := r.Count - 1 - int64(len(r.RunnersUp))
		if samplePoolSize < 0 {
			return nil, skerr.Fmt("record: invalid count or runners_up")
		}
		if r.HasSample {
			if samplePoolSize == 0 {
				return nil, skerr.Fmt("record: invalid count or runners_up")
			}
		} else if samplePoolSize > 0 {
			return nil, skerr.Fmt("record: missing sample")
		}
	}

	return r, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, skerr.Fmt("missing timestamp")
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		t, err := time.Parse(time.RFC3339, asString)
		if err != nil {
			return time.Time{}, skerr.Wrapf(err, "parsing timestamp %q", asString)
		}
		return t.UTC(), nil
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		sec := int64(asNumber)
		nsec := int64((asNumber - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, skerr.Fmt("timestamp is neither a string nor a number")
}

// RDR is a rewarded decision record, possibly partial (decision fields nil,
// a single entry in Rewards).
type RDR struct {
	DecisionID kid.ID
	Timestamp  *time.Time
	Variant    *string
	Givens     *string
	Count      *int64
	RunnersUp  []string
	Sample     *string
	Rewards    map[string]float64
	Reward     float64
}

// ToRDR projects r to its RDR row. JSON-valued fields are serialized to
// canonical form (object keys sorted) by way of encoding/json's map
// ordering, so that ToRDR is deterministic and equal JSON values always
// serialize byte-identically.
func ToRDR(r *Record) (*RDR, error) {
	switch r.Type {
	case Decision:
		ts := r.Timestamp
		count := r.Count
		variant, err := canonicalJSON(r.Variant)
		if err != nil {
			return nil, skerr.Wrapf(err, "record: serializing variant")
		}
		rdr := &RDR{
			DecisionID: r.MessageID,
			Timestamp:  &ts,
			Variant:    &variant,
			Count:      &count,
		}
		if r.Givens != nil {
			givens, err := canonicalJSON(r.Givens)
			if err != nil {
				return nil, skerr.Wrapf(err, "record: serializing givens")
			}
			rdr.Givens = &givens
		}
		if r.RunnersUp != nil {
			runnersUp := make([]string, len(r.RunnersUp))
			for i, ru := range r.RunnersUp {
				s, err := canonicalJSON(ru)
				if err != nil {
					return nil, skerr.Wrapf(err, "record: serializing runners_up[%d]", i)
				}
				runnersUp[i] = s
			}
			rdr.RunnersUp = runnersUp
		}
		if r.HasSample {
			sample, err := canonicalJSON(r.Sample)
			if err != nil {
				return nil, skerr.Wrapf(err, "record: serializing sample")
			}
			rdr.Sample = &sample
		}
		return rdr, nil

	case Reward:
		return &RDR{
			DecisionID: r.DecisionID,
			Rewards:    map[string]float64{r.MessageID.String(): r.Reward},
			Reward:     r.Reward,
		}, nil

	default:
		return nil, skerr.Fmt("record: unknown type %q", r.Type)
	}
}

func canonicalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
