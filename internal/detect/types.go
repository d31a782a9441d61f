package detect

import (
	"context"
	"encoding/json"
)

const (
	SourcePattern = "pattern"
	SourceNER     = "ner"
)

// Entity is a candidate sensitive span over the original text. Start and End
// are half-open byte offsets; Text is kept for diagnostics only.
type Entity struct {
	Classification string
	Start          int
	End            int
	Text           string
	Score          float64
	Source         string
}

type Detector interface {
	Detect(ctx context.Context, text string) ([]Entity, error)
}

type entityJSON struct {
	Position       [2]int  `json:"position"`
	Classification string  `json:"classification"`
	Text           string  `json:"entity"`
	Score          float64 `json:"score,omitempty"`
	Source         string  `json:"source,omitempty"`
}

func (e Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(entityJSON{
		Position:       [2]int{e.Start, e.End},
		Classification: e.Classification,
		Text:           e.Text,
		Score:          e.Score,
		Source:         e.Source,
	})
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw entityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Entity{
		Classification: raw.Classification,
		Start:          raw.Position[0],
		End:            raw.Position[1],
		Text:           raw.Text,
		Score:          raw.Score,
		Source:         raw.Source,
	}
	return nil
}
