package sqlstore

import (
	"testing"

	"synister/pkg/domain"
)

func TestRebindPostgresNumbersPlaceholders(t *testing.T) {
	got := rebind(DialectPostgres, "SELECT a FROM t WHERE a = ? AND b IN (?,?)")
	if got != "SELECT a FROM t WHERE a = $1 AND b IN ($2,$3)" {
		t.Fatalf("unexpected rebind %q", got)
	}
	if q := "x = ?"; rebind(DialectSQLite, q) != q {
		t.Fatalf("sqlite queries must be left untouched")
	}
}

func TestSynapseWhereCombinesFilters(t *testing.T) {
	pos := domain.Location{X: 1, Y: 2, Z: 3}
	where, args := synapseWhere(domain.SynapseFilter{SkeletonIDs: []int64{4, 5}, SplitName: "s", Position: &pos})
	want := " WHERE s.skeleton_id IN (?,?) AND EXISTS (SELECT 1 FROM synapse_splits f WHERE f.synapse_id = s.synapse_id AND f.split_name = ?) AND s.z = ? AND s.y = ? AND s.x = ?"
	if where != want {
		t.Fatalf("where = %q", where)
	}
	if len(args) != 6 || args[2] != "s" || args[3] != int64(3) || args[5] != int64(1) {
		t.Fatalf("unexpected args %v", args)
	}
	if where, args := synapseWhere(domain.SynapseFilter{}); where != "" || args != nil {
		t.Fatalf("empty filter should produce no clause")
	}
}
