package store

import "testing"

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	tables := []string{"channels", "channel_members", "messages", "schema_version"}
	for _, tbl := range tables {
		var name string
		err := db.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, tbl).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", tbl, err)
		}
	}
}

func TestStoreChannelIdempotent(t *testing.T) {
	db := openTestDB(t)
	channels := NewChannelStore(db)

	if err := channels.StoreChannel("#general", "general", "public", ""); err != nil {
		t.Fatalf("StoreChannel failed: %v", err)
	}
	if err := channels.StoreChannel("#general", "general", "public", ""); err != nil {
		t.Fatalf("second StoreChannel should be a no-op, got error: %v", err)
	}

	meta, err := channels.GetChannelInfo("#general")
	if err != nil {
		t.Fatalf("GetChannelInfo failed: %v", err)
	}
	if meta == nil {
		t.Fatal("expected channel metadata, got nil")
	}
	if meta.Kind != "public" {
		t.Errorf("Kind = %q, want %q", meta.Kind, "public")
	}
}

func TestGetChannelInfoMissing(t *testing.T) {
	db := openTestDB(t)
	channels := NewChannelStore(db)

	meta, err := channels.GetChannelInfo("#does-not-exist")
	if err != nil {
		t.Fatalf("GetChannelInfo failed: %v", err)
	}
	if meta != nil {
		t.Error("expected nil metadata for unknown channel")
	}
}

func TestMembershipLifecycle(t *testing.T) {
	db := openTestDB(t)
	channels := NewChannelStore(db)

	if err := channels.StoreChannel("#private1", "private1", "private", "node-owner"); err != nil {
		t.Fatalf("StoreChannel failed: %v", err)
	}
	if err := channels.AddMember("#private1", "node-owner", "owner"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if err := channels.AddMember("#private1", "node-member", "member"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	isMember, err := channels.IsMember("#private1", "node-member")
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if !isMember {
		t.Error("node-member should be a member")
	}

	members, err := channels.GetMembers("#private1")
	if err != nil {
		t.Fatalf("GetMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("len(members) = %d, want 2", len(members))
	}

	if err := channels.RemoveMember("#private1", "node-member"); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	isMember, err = channels.IsMember("#private1", "node-member")
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if isMember {
		t.Error("node-member should no longer be a member after removal")
	}
}

func TestStoreMessageInsertOrIgnore(t *testing.T) {
	db := openTestDB(t)
	channels := NewChannelStore(db)
	messages := NewMessageStore(db)

	if err := channels.StoreChannel("#general", "general", "public", ""); err != nil {
		t.Fatalf("StoreChannel failed: %v", err)
	}

	row := MessageRow{
		MsgID:     "msg1",
		ChannelID: "#general",
		SenderID:  "node1",
		Timestamp: "2026-01-01T00:00:00Z",
		Content:   "hello",
		Signature: "sig1",
	}

	wasNew, err := messages.StoreMessage(row)
	if err != nil {
		t.Fatalf("StoreMessage failed: %v", err)
	}
	if !wasNew {
		t.Error("first insert should report wasNew=true")
	}

	wasNew, err = messages.StoreMessage(row)
	if err != nil {
		t.Fatalf("duplicate StoreMessage should not error: %v", err)
	}
	if wasNew {
		t.Error("duplicate insert should report wasNew=false")
	}

	count, err := messages.GetMessageCount("#general")
	if err != nil {
		t.Fatalf("GetMessageCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestGetMessagesForChannelOrdering(t *testing.T) {
	db := openTestDB(t)
	channels := NewChannelStore(db)
	messages := NewMessageStore(db)

	if err := channels.StoreChannel("#general", "general", "public", ""); err != nil {
		t.Fatalf("StoreChannel failed: %v", err)
	}

	timestamps := []string{
		"2026-01-01T00:00:01Z",
		"2026-01-01T00:00:02Z",
		"2026-01-01T00:00:03Z",
	}
	for i, ts := range timestamps {
		row := MessageRow{
			MsgID:     string(rune('a' + i)),
			ChannelID: "#general",
			SenderID:  "node1",
			Timestamp: ts,
			Content:   ts,
			Signature: "sig",
		}
		if _, err := messages.StoreMessage(row); err != nil {
			t.Fatalf("StoreMessage failed: %v", err)
		}
	}

	rows, err := messages.GetMessagesForChannel("#general", 10)
	if err != nil {
		t.Fatalf("GetMessagesForChannel failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	for i, row := range rows {
		if row.Timestamp != timestamps[i] {
			t.Errorf("rows[%d].Timestamp = %q, want %q (expected ascending order)", i, row.Timestamp, timestamps[i])
		}
	}
}

func TestGetMessagesForChannelRespectsLimit(t *testing.T) {
	db := openTestDB(t)
	channels := NewChannelStore(db)
	messages := NewMessageStore(db)

	if err := channels.StoreChannel("#general", "general", "public", ""); err != nil {
		t.Fatalf("StoreChannel failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		row := MessageRow{
			MsgID:     string(rune('a' + i)),
			ChannelID: "#general",
			SenderID:  "node1",
			Timestamp: string(rune('0' + i)),
			Content:   "x",
			Signature: "sig",
		}
		if _, err := messages.StoreMessage(row); err != nil {
			t.Fatalf("StoreMessage failed: %v", err)
		}
	}

	rows, err := messages.GetMessagesForChannel("#general", 2)
	if err != nil {
		t.Fatalf("GetMessagesForChannel failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("len(rows) = %d, want 2", len(rows))
	}
}
