package partition

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/improve-ai/tracker/go/columnar/arrowcodec"
	"github.com/improve-ai/tracker/go/metrics2"
	"github.com/improve-ai/tracker/go/objectstore/memstore"
	"github.com/improve-ai/tracker/go/objectstore/quarantine"
	"github.com/improve-ai/tracker/kid"
	"github.com/improve-ai/tracker/record"
	"github.com/improve-ai/tracker/stats"
)

func newTestStats() *stats.Stats {
	return stats.New(metrics2.New(prometheus.NewRegistry()))
}

func newDeps(store *memstore.Store) Deps {
	return Deps{
		Store:          store,
		Codec:          arrowcodec.New(),
		Stats:          newTestStats(),
		MaxRowsPerFile: 1000,
	}
}

func decisionRecord(t *testing.T, model string, id kid.ID, variant string) *record.Record {
	t.Helper()
	data := `{"message_id":"` + id.String() + `","timestamp":"` + id.Timestamp().UTC().Format(time.RFC3339) + `","type":"decision","model":"` + model + `","count":1,"variant":` + variant + `}`
	r, err := record.Parse([]byte(data))
	require.NoError(t, err)
	return r
}

func rewardRecord(t *testing.T, model string, decisionID kid.ID, reward float64) *record.Record {
	t.Helper()
	id := kid.New()
	data := `{"message_id":"` + id.String() + `","timestamp":"` + id.Timestamp().UTC().Format(time.RFC3339) +
		`","type":"reward","model":"` + model + `","decision_id":"` + decisionID.String() + `","reward":` + strconv.FormatFloat(reward, 'f', -1, 64) + `}`
	r, err := record.Parse([]byte(data))
	require.NoError(t, err)
	return r
}

// Scenario 1: new-partition path.
func TestScenario_NewPartitionPath(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	deps := newDeps(store)

	decisionID := kid.New()
	rdps, err := PartitionsFromRecordGroup(ctx, store, "m", []*record.Record{decisionRecord(t, "m", decisionID, `{"x":1}`)})
	require.NoError(t, err)
	require.Len(t, rdps, 1)
	require.Empty(t, rdps[0].Key)

	require.NoError(t, rdps[0].Process(ctx, deps))

	keys := store.Keys()
	require.Len(t, keys, 1)
	require.True(t, strings.HasPrefix(keys[0], "rewarded_decisions/m/parquet/"))
	require.True(t, strings.Contains(keys[0], "-1-"))
}

// Scenario 2: reward joins decision within one batch.
func TestScenario_RewardJoinsDecisionInSameBatch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	deps := newDeps(store)

	decisionID := kid.New()
	records := []*record.Record{
		decisionRecord(t, "m", decisionID, `{"x":1}`),
		rewardRecord(t, "m", decisionID, 1.5),
	}
	rdps, err := PartitionsFromRecordGroup(ctx, store, "m", records)
	require.NoError(t, err)
	require.Len(t, rdps, 1)

	require.NoError(t, rdps[0].Process(ctx, deps))

	table, err := arrowcodec.New().Decode(mustRead(t, store, store.Keys()[0]))
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	require.Equal(t, 1.5, table.Columns["reward"][0])
}

// Scenario 3: duplicate reward with the same message_id is not double-counted.
func TestScenario_DuplicateRewardNotDoubleCounted(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	deps := newDeps(store)

	decisionID := kid.New()
	rewardID := kid.New()
	reward := func() *record.Record {
		data := `{"message_id":"` + rewardID.String() + `","timestamp":"` + rewardID.Timestamp().UTC().Format(time.RFC3339) +
			`","type":"reward","model":"m","decision_id":"` + decisionID.String() + `","reward":1.5}`
		r, err := record.Parse([]byte(data))
		require.NoError(t, err)
		return r
	}

	rdp := &RDP{Model: "m"}
	for _, r := range []*record.Record{reward(), reward()} {
		rdr, err := record.ToRDR(r)
		require.NoError(t, err)
		rdp.Rows = append(rdp.Rows, rdr)
	}

	require.NoError(t, rdp.Process(ctx, deps))

	table, err := arrowcodec.New().Decode(mustRead(t, store, store.Keys()[0]))
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	require.Equal(t, 1.5, table.Columns["reward"][0])
}

// Scenario 4: merge into existing partition replaces it.
func TestScenario_MergeIntoExistingPartition(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	deps := newDeps(store)

	decisionID := kid.New()
	rdps, err := PartitionsFromRecordGroup(ctx, store, "m", []*record.Record{decisionRecord(t, "m", decisionID, `{}`)})
	require.NoError(t, err)
	require.NoError(t, rdps[0].Process(ctx, deps))
	existingKey := store.Keys()[0]

	rdps2, err := PartitionsFromRecordGroup(ctx, store, "m", []*record.Record{rewardRecord(t, "m", decisionID, 2.0)})
	require.NoError(t, err)
	require.Len(t, rdps2, 1)
	require.Equal(t, existingKey, rdps2[0].Key)

	require.NoError(t, rdps2[0].Process(ctx, deps))

	require.False(t, store.Has(existingKey))
	keys := store.Keys()
	require.Len(t, keys, 1)

	table, err := arrowcodec.New().Decode(mustRead(t, store, keys[0]))
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	require.Equal(t, 2.0, table.Columns["reward"][0])
}

// Scenario 5: read failure on an existing partition drops the attachment
// and produces an overlapping sibling instead of losing data.
func TestScenario_ReadFailureOnExistingPartitionDropsAttachment(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	deps := newDeps(store)

	decisionID := kid.New()
	unreadableKey := FullKey("m", decisionID, decisionID, 1, "arrow")
	require.NoError(t, store.Write(ctx, unreadableKey, []byte("not a valid arrow stream")))

	rdp := &RDP{Model: "m", Key: unreadableKey}
	rdr, err := record.ToRDR(rewardRecord(t, "m", decisionID, 3.0))
	require.NoError(t, err)
	rdp.Rows = []*record.RDR{rdr}

	require.NoError(t, rdp.Process(ctx, deps))

	require.True(t, store.Has(unreadableKey), "unreadable key must not be deleted")
	keys := store.Keys()
	require.Len(t, keys, 2)
}

// A partition file that decodes fine but whose rows fail validation
// (unlike an undecodable file, scenario 5) is genuine corruption: it is
// quarantined and deleted rather than silently dropped.
func TestLoad_RowWithInvalidDecisionID_QuarantinesAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	deps := newDeps(store)

	badTable, err := rowsToTable([]*record.RDR{{DecisionID: kid.ID("not-a-valid-k-id")}})
	require.NoError(t, err)
	data, err := arrowcodec.New().Encode(badTable)
	require.NoError(t, err)

	corruptKey := FullKey("m", kid.New(), kid.New(), 1, "arrow")
	require.NoError(t, store.Write(ctx, corruptKey, data))

	rdp := &RDP{Model: "m", Key: corruptKey, Rows: []*record.RDR{}}

	err = rdp.Process(ctx, deps)
	require.Error(t, err)

	require.False(t, store.Has(corruptKey), "corrupt partition must be deleted")
	require.True(t, store.Has(quarantine.Key(corruptKey)), "corrupt partition must be archived")
}

// Scenario 6: repair reconciles two overlapping partitions into one.
func TestScenario_RepairReconcilesOverlappingPartitions(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	deps := newDeps(store)

	decisionID := kid.New()

	decisionRDP := &RDP{Model: "m"}
	rdr1, err := record.ToRDR(decisionRecord(t, "m", decisionID, `{}`))
	require.NoError(t, err)
	decisionRDP.Rows = []*record.RDR{rdr1}
	require.NoError(t, decisionRDP.Process(ctx, deps))

	rewardRDP := &RDP{Model: "m"}
	rdr2, err := record.ToRDR(rewardRecord(t, "m", decisionID, 4.0))
	require.NoError(t, err)
	rewardRDP.Rows = []*record.RDR{rdr2}
	require.NoError(t, rewardRDP.Process(ctx, deps))

	require.Len(t, store.Keys(), 2, "both partitions should overlap before repair")

	sorted := &RDP{Model: "m"}
	sorted.Rows = append(sorted.Rows, rdr1)
	sorted.sort()

	require.NoError(t, Repair(ctx, "m", []*RDP{sorted}, deps))

	keys := store.Keys()
	require.Len(t, keys, 1)

	table, err := arrowcodec.New().Decode(mustRead(t, store, keys[0]))
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	require.Equal(t, 4.0, table.Columns["reward"][0])
}

func TestMerge_IdempotentAndCommutative(t *testing.T) {
	decisionID := kid.New()
	rewardID := kid.New()

	group1 := []*record.RDR{
		{DecisionID: decisionID, Rewards: map[string]float64{rewardID.String(): 2.0}, Reward: 2.0},
		{DecisionID: decisionID, Count: int64Ptr(1)},
	}
	group2 := []*record.RDR{group1[1], group1[0]}

	merged1 := mergeGroup(group1)
	merged2 := mergeGroup(group2)

	require.Equal(t, merged1.Reward, merged2.Reward)
	require.Equal(t, merged1.Rewards, merged2.Rewards)
	require.Equal(t, *merged1.Count, *merged2.Count)

	rerun := mergeGroup([]*record.RDR{merged1})
	require.Equal(t, merged1.Reward, rerun.Reward)
}

func int64Ptr(v int64) *int64 { return &v }

func mustRead(t *testing.T, store *memstore.Store, key string) []byte {
	t.Helper()
	data, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	return data
}
