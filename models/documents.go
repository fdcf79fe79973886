package models

// Document collections.
const (
	CollectionSessions    = "sessions"
	CollectionGames       = "games"
	CollectionTournaments = "tournaments"
)

// Indexed document fields.
const (
	FieldPinCode = "pin_code"
	FieldStatus  = "status"
)

func (s *Session) DocumentID() string { return s.ID }

func (s *Session) IndexedFields() map[string]string {
	return map[string]string{FieldPinCode: s.PinCode, FieldStatus: string(s.Status)}
}

func (g *Game) DocumentID() string { return g.ID }

func (g *Game) IndexedFields() map[string]string {
	return map[string]string{FieldStatus: string(g.Status)}
}

func (t *Tournament) DocumentID() string { return t.ID }

func (t *Tournament) IndexedFields() map[string]string {
	return map[string]string{FieldPinCode: t.PinCode, FieldStatus: string(t.Status)}
}
