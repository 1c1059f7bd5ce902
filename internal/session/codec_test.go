package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecode(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	tests := []struct {
		name  string
		realm string
	}{
		{"no realm", ""},
		{"plain realm", "play.example.net"},
		{"realm with separator", "a|b|c"},
		{"realm with newline", "line1\nline2"},
		{"realm with percent", "100% uptime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{
				InstanceID:    "1700000000000-abcdef",
				StartTime:     start,
				LastHeartbeat: start.Add(5 * time.Second),
				PID:           4242,
				Realm:         tt.realm,
			}
			data := Encode(rec)
			if strings.Count(string(data), "\n") != 1 {
				t.Fatalf("Encode() produced %q, want a single line", data)
			}

			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.InstanceID != rec.InstanceID || got.PID != rec.PID || got.Realm != rec.Realm {
				t.Errorf("Decode() = %+v, want %+v", got, rec)
			}
			if !got.StartTime.Equal(rec.StartTime) || !got.LastHeartbeat.Equal(rec.LastHeartbeat) {
				t.Errorf("Decode() times = %v/%v, want %v/%v",
					got.StartTime, got.LastHeartbeat, rec.StartTime, rec.LastHeartbeat)
			}
		})
	}
}

func TestEncode_Format(t *testing.T) {
	rec := Record{
		InstanceID:    "abc",
		StartTime:     time.UnixMilli(1000),
		LastHeartbeat: time.UnixMilli(2000),
		PID:           7,
		Realm:         "x|y",
	}
	want := "v1|abc|1000|2000|7|x%7Cy\n"
	if got := string(Encode(rec)); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestDecode_Legacy(t *testing.T) {
	got, err := Decode([]byte("abc|1000|2000|7|hub\n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.InstanceID != "abc" || got.PID != 7 || got.Realm != "hub" {
		t.Errorf("Decode() = %+v", got)
	}

	got, err = Decode([]byte("abc|1000|2000|7"))
	if err != nil {
		t.Fatalf("Decode() without realm error = %v", err)
	}
	if got.Realm != "" {
		t.Errorf("Realm = %q, want empty", got.Realm)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"garbage", "not a record"},
		{"unknown version", "v2|abc|1000|2000|7|"},
		{"too few fields", "v1|abc|1000|2000|7"},
		{"too many fields", "v1|abc|1000|2000|7|r|extra"},
		{"non-integer start", "v1|abc|soon|2000|7|"},
		{"non-integer heartbeat", "v1|abc|1000|later|7|"},
		{"non-integer pid", "v1|abc|1000|2000|seven|"},
		{"negative time", "v1|abc|-5|2000|7|"},
		{"zero pid", "v1|abc|1000|2000|0|"},
		{"heartbeat before start", "v1|abc|2000|1000|7|"},
		{"path traversal id", "v1|../etc|1000|2000|7|"},
		{"bad escape", "v1|abc|1000|2000|7|%zz"},
		{"two lines", "v1|abc|1000|2000|7|\nv1|abc|1000|2000|7|\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("Decode(%q) error = %v, want ErrCorruptRecord", tt.data, err)
			}
		})
	}
}

func TestRecord_Alive(t *testing.T) {
	base := time.UnixMilli(1_000_000)
	rec := Record{InstanceID: "a", StartTime: base, LastHeartbeat: base, PID: 1}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"fresh", base, true},
		{"at ttl", base.Add(DefaultTTL), true},
		{"just past ttl", base.Add(DefaultTTL + time.Millisecond), false},
		{"long dead", base.Add(40 * time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rec.Alive(tt.now, DefaultTTL); got != tt.want {
				t.Errorf("Alive() = %v, want %v", got, tt.want)
			}
		})
	}
}
