package pipeline

import (
	"context"
	"sort"
	"strconv"

	"lakerun/internal/domain"
	"lakerun/internal/source"
)

// tracker reads only-new upstream records for incremental tables, based on
// the persisted checkpoints. It never advances a checkpoint itself: the
// positions it reports are committed atomically with the batch rows they
// cover, so a crashed batch restarts from the previous checkpoint.
type tracker struct {
	state domain.StateRepository
}

// zoneUpstream namespaces landing-zone checkpoints away from table names.
func zoneUpstream(zone string) string { return "zone:" + zone }

// newLandingRecords returns the records of landing-zone files appended after
// the table's checkpoint, plus the checkpoint advance covering them. The
// returned checkpoint slice is empty when the zone has nothing new.
func (tr *tracker) newLandingRecords(ctx context.Context, table string, zone source.LandingZone) ([]domain.Row, []domain.Checkpoint, error) {
	upstream := zoneUpstream(zone.Name())
	pos, err := tr.state.Checkpoint(ctx, table, upstream)
	if err != nil {
		return nil, nil, err
	}

	names, err := zone.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	if pos != "" {
		idx := sort.SearchStrings(names, pos)
		if idx >= len(names) || names[idx] != pos {
			return nil, nil, &domain.CheckpointGapError{Table: table, Upstream: zone.Name(), Position: pos}
		}
	}

	var rows []domain.Row
	newPos := pos
	for _, name := range names {
		if pos != "" && name <= pos {
			continue
		}
		fileRows, err := zone.Read(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, fileRows...)
		newPos = name
	}

	if newPos == pos {
		return nil, nil, nil
	}
	return rows, []domain.Checkpoint{{Table: table, Upstream: upstream, Position: newPos}}, nil
}

// newTableRecords returns the upstream table's rows committed after the
// table's checkpoint, plus the checkpoint advance covering them.
func (tr *tracker) newTableRecords(ctx context.Context, table, upstream string) ([]domain.Row, []domain.Checkpoint, error) {
	pos, err := tr.state.Checkpoint(ctx, table, upstream)
	if err != nil {
		return nil, nil, err
	}

	var since int64
	if pos != "" {
		since, err = strconv.ParseInt(pos, 10, 64)
		if err != nil {
			return nil, nil, domain.ErrValidation("table %q: malformed checkpoint %q for upstream %q", table, pos, upstream)
		}
		maxSeq, err := tr.state.MaxSeq(ctx, upstream)
		if err != nil {
			return nil, nil, err
		}
		if since > maxSeq {
			return nil, nil, &domain.CheckpointGapError{Table: table, Upstream: upstream, Position: pos}
		}
	}

	rows, newSeq, err := tr.state.RowsSince(ctx, upstream, since)
	if err != nil {
		return nil, nil, err
	}
	if newSeq <= since {
		return nil, nil, nil
	}
	return rows, []domain.Checkpoint{{Table: table, Upstream: upstream, Position: strconv.FormatInt(newSeq, 10)}}, nil
}
