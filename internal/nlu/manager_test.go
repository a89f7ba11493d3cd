package nlu

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

var _ Model = (*Manager)(nil)

func trainedManager(t *testing.T, strict bool, docs ...Document) *Manager {
	t.Helper()

	m := NewManager()
	if err := m.Configure([]string{"en"}, strict); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	for _, d := range docs {
		if err := m.AddDocument(d.Language, d.Utterance, d.Intent); err != nil {
			t.Fatalf("AddDocument(%q) error = %v", d.Utterance, err)
		}
	}
	if err := m.Train(context.Background()); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	return m
}

var greetings = []Document{
	{Language: "en", Utterance: "hello", Intent: "greeting"},
	{Language: "en", Utterance: "bye", Intent: "farewell"},
}

func TestManager_ClassifiesTrainingUtterances(t *testing.T) {
	m := trainedManager(t, true, greetings...)

	tests := []struct {
		utterance string
		want      string
	}{
		{"hello", "greeting"},
		{"Hello!", "greeting"},
		{"bye", "farewell"},
		{"BYE now", "farewell"},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			res, err := m.Process(context.Background(), "en", tt.utterance)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Intent != tt.want {
				t.Errorf("Intent = %s, want %s", res.Intent, tt.want)
			}
			if res.Score <= 0.5 {
				t.Errorf("Score = %v, want > 0.5", res.Score)
			}
		})
	}
}

func TestManager_ScoresSumToOne(t *testing.T) {
	m := trainedManager(t, false,
		Document{"en", "book a flight to paris", "travel"},
		Document{"en", "find me a hotel", "travel"},
		Document{"en", "what is the weather today", "weather"},
		Document{"en", "will it rain tomorrow", "weather"},
	)

	res, err := m.Process(context.Background(), "", "is it going to rain today")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Intent != "weather" {
		t.Errorf("Intent = %s, want weather", res.Intent)
	}

	var sum float64
	for i, c := range res.Classifications {
		sum += c.Score
		if i > 0 && c.Score > res.Classifications[i-1].Score {
			t.Errorf("classifications not sorted: %+v", res.Classifications)
		}
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("scores sum = %v, want 1", sum)
	}
}

func TestManager_UnknownUtteranceIsNone(t *testing.T) {
	m := trainedManager(t, false, greetings...)

	res, err := m.Process(context.Background(), "en", "quantum chromodynamics")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Intent != NoneIntent {
		t.Errorf("Intent = %s, want %s", res.Intent, NoneIntent)
	}
}

func TestManager_Entities(t *testing.T) {
	docs := []Document{{"en", "send mail", "email"}}

	strict := trainedManager(t, true, docs...)
	res, err := strict.Process(context.Background(), "en", "send 3 files to ana@example.com via https://files.example.com/x1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := []string{EntityNumber, EntityEmail, EntityURL}
	if len(res.Entities) != len(want) {
		t.Fatalf("Entities = %+v, want %d entities", res.Entities, len(want))
	}
	for i, kind := range want {
		if res.Entities[i].Type != kind {
			t.Errorf("Entities[%d].Type = %s, want %s", i, res.Entities[i].Type, kind)
		}
	}
	if res.Entities[1].Value != "ana@example.com" {
		t.Errorf("email value = %s", res.Entities[1].Value)
	}

	loose := trainedManager(t, false, docs...)
	res, err = loose.Process(context.Background(), "en", "send 3 files")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(res.Entities) != 0 {
		t.Errorf("Entities = %+v, want none without strict recognition", res.Entities)
	}
}

func TestManager_ExportImportRoundTrip(t *testing.T) {
	m := trainedManager(t, true,
		Document{"en", "hello there", "greeting"},
		Document{"en", "good morning", "greeting"},
		Document{"en", "see you later", "farewell"},
		Document{"en", "goodbye", "farewell"},
	)

	data, err := m.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	restored := NewManager()
	if err := restored.Import(data); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if got := restored.Settings(); !got.StrictEntities || len(got.Languages) != 1 || got.Languages[0] != "en" {
		t.Errorf("Settings() = %+v, want strict en", got)
	}

	for _, utterance := range []string{"hello there", "good morning", "see you later", "goodbye"} {
		orig, err := m.Process(context.Background(), "en", utterance)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		got, err := restored.Process(context.Background(), "en", utterance)
		if err != nil {
			t.Fatalf("restored Process() error = %v", err)
		}
		if got.Intent != orig.Intent || got.Score != orig.Score {
			t.Errorf("%q: restored = %s/%v, original = %s/%v", utterance, got.Intent, got.Score, orig.Intent, orig.Score)
		}
	}

	again, err := restored.Export()
	if err != nil {
		t.Fatalf("second Export() error = %v", err)
	}
	if string(again) != string(data) {
		t.Error("export is not stable across import")
	}
}

func TestManager_ImportRejectsCorruptData(t *testing.T) {
	valid, err := trainedManager(t, false, greetings...).Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	tampered := func(edit func(doc map[string]any)) []byte {
		var doc map[string]any
		if err := json.Unmarshal(valid, &doc); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		edit(doc)
		out, _ := json.Marshal(doc)
		return out
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"whitespace", []byte("  \n")},
		{"not json", []byte("\x00\x01garbage")},
		{"truncated", valid[:len(valid)/2]},
		{"trailing data", append(append([]byte{}, valid...), []byte(` {}`)...)},
		{"wrong version", tampered(func(doc map[string]any) { doc["version"] = 99 })},
		{"unknown field", tampered(func(doc map[string]any) { doc["extra"] = true })},
		{"no languages", tampered(func(doc map[string]any) { doc["languages"] = map[string]any{} })},
		{"unconfigured language", tampered(func(doc map[string]any) {
			langs := doc["languages"].(map[string]any)
			langs["fr"] = langs["en"]
		})},
		{"inconsistent counts", tampered(func(doc map[string]any) {
			en := doc["languages"].(map[string]any)["en"].(map[string]any)
			en["documents"] = 7
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := trainedManager(t, false, Document{"en", "weather today", "weather"})
			if err := m.Import(tt.data); err == nil {
				t.Fatal("Import() expected error")
			}
			// Failed import leaves the previous state intact.
			res, err := m.Process(context.Background(), "en", "weather")
			if err != nil {
				t.Fatalf("Process() after failed import error = %v", err)
			}
			if res.Intent != "weather" {
				t.Errorf("Intent = %s, want weather", res.Intent)
			}
		})
	}
}

func TestManager_Errors(t *testing.T) {
	m := NewManager()

	if err := m.Configure(nil, true); err == nil {
		t.Error("Configure(nil) expected error")
	}
	if err := m.Configure([]string{"en", " "}, true); err == nil {
		t.Error("Configure with blank language expected error")
	}
	if err := m.Configure([]string{"en"}, true); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	if err := m.Train(context.Background()); err != ErrNoDocuments {
		t.Errorf("Train() without documents error = %v, want ErrNoDocuments", err)
	}
	if _, err := m.Export(); err != ErrNotTrained {
		t.Errorf("Export() before training error = %v, want ErrNotTrained", err)
	}
	if _, err := m.Process(context.Background(), "en", "hi"); err != ErrNotTrained {
		t.Errorf("Process() before training error = %v, want ErrNotTrained", err)
	}

	if err := m.AddDocument("de", "hallo", "greeting"); err == nil {
		t.Error("AddDocument() with unconfigured language expected error")
	}
	if err := m.AddDocument("en", "", "greeting"); err == nil {
		t.Error("AddDocument() with empty utterance expected error")
	}
	if err := m.AddDocument("en", "hello", " "); err == nil {
		t.Error("AddDocument() with empty intent expected error")
	}

	if err := m.AddDocument("en", "hello", "greeting"); err != nil {
		t.Fatalf("AddDocument() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Train(ctx); err == nil {
		t.Error("Train() with cancelled context expected error")
	}
	if err := m.Train(context.Background()); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if _, err := m.Process(context.Background(), "fr", "bonjour"); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("Process() with unconfigured language error = %v", err)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"Café crème", []string{"cafe", "creme"}},
		{"  spaced   out ", []string{"spaced", "out"}},
		{"room 42b", []string{"room", "42b"}},
		{"STRASSE", []string{"strasse"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := tokenize(tt.input)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
