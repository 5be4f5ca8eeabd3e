package namespace

import "testing"

func TestJoinKey(t *testing.T) {
	tests := []struct {
		segments []string
		want     string
	}{
		{[]string{"plant", "line1", "tags", "Counter"}, "plant:line1:tags:Counter"},
		{[]string{"", "line1", "tags", "Counter"}, "line1:tags:Counter"},
		{[]string{"plant:", ":line1", "changes"}, "plant:line1:changes"},
		{[]string{"", "writes"}, "writes"},
		{[]string{"plant", "line1", "tags", "Program:Main.X"}, "plant:line1:tags:Program:Main.X"},
	}
	for _, tc := range tests {
		if got := joinKey(tc.segments...); got != tc.want {
			t.Errorf("joinKey(%q) = %q, want %q", tc.segments, got, tc.want)
		}
	}
}

func TestBuilderNames(t *testing.T) {
	b := New("plant")
	tests := []struct {
		got, want string
	}{
		{b.MQTTTagTopic("line1", "Counter"), "plant/line1/tags/Counter"},
		{b.MQTTWriteTopic("line1"), "plant/line1/write"},
		{b.MQTTWriteSubscription(), "plant/+/write"},
		{b.MQTTWriteResponseTopic("line1"), "plant/line1/write/response"},
		{b.ValkeyTagKey("line1", "Counter"), "plant:line1:tags:Counter"},
		{b.ValkeyChangesChannel("line1"), "plant:line1:changes"},
		{b.ValkeyAllChangesChannel(), "plant:_all:changes"},
		{b.ValkeyWriteQueue(), "plant:writes"},
		{b.ValkeyWriteResponseChannel(), "plant:write:responses"},
		{New("").ValkeyWriteQueue(), "writes"},
		{KafkaKey("line1", "Counter"), "line1.Counter"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestPLCFromWriteTopic(t *testing.T) {
	b := New("plant")
	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"plant/line1/write", "line1", true},
		{"plant/line1/write/response", "", false},
		{"plant/a/b/write", "", false},
		{"plant//write", "", false},
		{"other/line1/write", "", false},
	}
	for _, tc := range tests {
		got, ok := b.PLCFromWriteTopic(tc.topic)
		if got != tc.want || ok != tc.ok {
			t.Errorf("PLCFromWriteTopic(%q) = %q, %v; want %q, %v", tc.topic, got, ok, tc.want, tc.ok)
		}
	}
}
