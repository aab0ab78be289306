// Package firehose implements the Record Group Loader: reading a
// gzip-compressed newline-delimited JSON file of firehose records,
// validating each line, and grouping the valid ones by model name.
package firehose

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"sort"

	"github.com/improve-ai/tracker/go/objectstore"
	"github.com/improve-ai/tracker/go/objectstore/quarantine"
	"github.com/improve-ai/tracker/go/skerr"
	"github.com/improve-ai/tracker/go/sklog"
	"github.com/improve-ai/tracker/record"
	"github.com/improve-ai/tracker/stats"
)

// RecordGroup is every valid record seen for one model in an input file.
type RecordGroup struct {
	Model   string
	Records []*record.Record
}

// LoadGroups downloads key from store, parses it as gzip-compressed
// newline-delimited JSON, and returns one RecordGroup per distinct model
// name encountered. Invalid lines are counted in st and archived together
// under quarantine.Key(key); they never fail the load.
func LoadGroups(ctx context.Context, store objectstore.Client, key string, st *stats.Stats) ([]RecordGroup, error) {
	sklog.Infof("loading firehose file %s", key)

	compressed, err := store.Read(ctx, key)
	if err != nil {
		return nil, skerr.Wrapf(err, "firehose: reading %q", key)
	}
	st.IncObjectStoreRequests("firehose", "get")

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, skerr.Wrapf(err, "firehose: opening gzip stream of %q", key)
	}
	defer gz.Close()

	byModel := map[string][]*record.Record{}
	var invalid bytes.Buffer
	invalidCount := 0

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		r, err := record.Parse(line)
		if err != nil {
			st.AddParseError()
			invalidCount++
			fmt.Fprintf(&invalid, "%s\t%s\n", err.Error(), line)
			continue
		}

		byModel[r.Model] = append(byModel[r.Model], r)
	}
	if err := scanner.Err(); err != nil {
		return nil, skerr.Wrapf(err, "firehose: scanning %q", key)
	}

	if invalidCount > 0 {
		sklog.Warningf("firehose: skipped %d invalid record(s) in %q", invalidCount, key)
		archiveKey, err := quarantine.Archive(ctx, store, key, invalid.Bytes())
		if err != nil {
			sklog.Errorf("firehose: failed to archive invalid lines from %q: %v", key, err)
		} else {
			st.RememberQuarantinedFile(archiveKey)
			st.IncObjectStoreRequests("firehose", "put")
		}
	}

	models := make([]string, 0, len(byModel))
	for model := range byModel {
		models = append(models, model)
	}
	sort.Strings(models)

	groups := make([]RecordGroup, 0, len(models))
	for _, model := range models {
		groups = append(groups, RecordGroup{Model: model, Records: byModel[model]})
	}

	total := 0
	for _, g := range groups {
		total += len(g.Records)
	}
	sklog.Infof("firehose: loaded %d record(s) across %d model(s) from %q", total, len(groups), key)

	return groups, nil
}
