package repo

import (
	"context"
	"reflect"
	"testing"
)

func TestCreateGroup_GetWithMembers(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")
	seedUser(t, db, "u2", "bob")
	seedUser(t, db, "u3", "carol")

	g, err := CreateGroup(ctx, db, "team", "u1", []string{"u1", "u3"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if g.ID == "" || g.Name != "team" || g.CreatedBy != "u1" {
		t.Fatalf("unexpected group: %+v", g)
	}

	got, err := GetGroup(ctx, db, g.ID, true)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if len(got.Members) != 2 || got.Members[0].Username != "alice" || got.Members[1].Username != "carol" {
		t.Fatalf("unexpected members: %+v", got.Members)
	}

	bare, err := GetGroup(ctx, db, g.ID, false)
	if err != nil || len(bare.Members) != 0 {
		t.Fatalf("expected no members without preload: err=%v %+v", err, bare)
	}

	if _, err := GetGroup(ctx, db, "missing", true); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGroupMemberIDs(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")
	seedUser(t, db, "u2", "bob")

	g, err := CreateGroup(ctx, db, "pair", "u2", []string{"u2", "u1"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	ids, err := GroupMemberIDs(ctx, db, g.ID)
	if err != nil || !reflect.DeepEqual(ids, []string{"u1", "u2"}) {
		t.Fatalf("GroupMemberIDs = %v, %v", ids, err)
	}

	empty, err := CreateGroup(ctx, db, "empty", "u1", nil)
	if err != nil {
		t.Fatalf("CreateGroup empty: %v", err)
	}
	ids, err = GroupMemberIDs(ctx, db, empty.ID)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected no members, got %v err=%v", ids, err)
	}

	if _, err := GroupMemberIDs(ctx, db, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListGroupsForUser(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")
	seedUser(t, db, "u2", "bob")

	if _, err := CreateGroup(ctx, db, "a", "u1", []string{"u1", "u2"}); err != nil {
		t.Fatalf("CreateGroup a: %v", err)
	}
	if _, err := CreateGroup(ctx, db, "b", "u2", []string{"u2"}); err != nil {
		t.Fatalf("CreateGroup b: %v", err)
	}

	got, err := ListGroupsForUser(ctx, db, "u1")
	if err != nil || len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("u1 groups = %+v, %v", got, err)
	}
	got, err = ListGroupsForUser(ctx, db, "u2")
	if err != nil || len(got) != 2 {
		t.Fatalf("u2 groups = %+v, %v", got, err)
	}
}

func TestCreateGroup_Error_NoTable(t *testing.T) {
	db := newTestDB(t, false)
	if _, err := CreateGroup(context.Background(), db, "x", "u1", []string{"u1"}); err == nil {
		t.Fatalf("expected error when tables are missing")
	}
}
