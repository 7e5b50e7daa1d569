package collections

// FindOptions mirror the find options of the database endpoints.
type FindOptions struct {
	Skip       int64          `json:"skip,omitempty"`
	Limit      int64          `json:"limit,omitempty"`
	Sort       any            `json:"sort,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
}

type CountOptions struct {
	Skip  int64 `json:"skip,omitempty"`
	Limit int64 `json:"limit,omitempty"`
}

// InsertOptions.Timestamp defaults to true when unset.
type InsertOptions struct {
	Timestamp *bool `json:"timestamp,omitempty"`
}

type UpdateOptions struct {
	Upsert    bool  `json:"upsert,omitempty"`
	Many      bool  `json:"-"`
	Timestamp *bool `json:"timestamp,omitempty"`
}

type DeleteOptions struct {
	Many bool `json:"-"`
}

type InsertResult struct {
	Acknowledged bool     `json:"acknowledged"`
	InsertedIDs  []string `json:"inserted_ids"`
}

type UpdateResult struct {
	Acknowledged  bool    `json:"acknowledged"`
	MatchedCount  int64   `json:"matched_count"`
	ModifiedCount int64   `json:"modified_count"`
	UpsertedID    *string `json:"upserted_id"`
}

type DeleteResult struct {
	Acknowledged bool  `json:"acknowledged"`
	DeletedCount int64 `json:"deleted_count"`
}

func stamp(p *bool) bool { return p == nil || *p }

// Bool is a helper for option literals.
func Bool(v bool) *bool { return &v }
