package inference

// ScoreDimensions are the label dimensions of a score session.
var ScoreDimensions = []string{"HOME", "AWAY"}

// ScoreMarks is the operator's running count of the score, kept to label
// captures while the real score changes. Every mark can be undone.
type ScoreMarks struct {
	home, away uint8
	history    [][2]uint8
}

// NewScoreMarks starts counting from home-away.
func NewScoreMarks(home, away uint8) *ScoreMarks {
	return &ScoreMarks{home: home, away: away}
}

// Home adds a run for the home side and returns the new label.
func (m *ScoreMarks) Home() LabelVector {
	m.push()
	if m.home < 0xFF {
		m.home++
	}
	return m.Current()
}

// Away adds a run for the away side and returns the new label.
func (m *ScoreMarks) Away() LabelVector {
	m.push()
	if m.away < 0xFF {
		m.away++
	}
	return m.Current()
}

// Undo restores the score before the last mark. ok is false when there is
// nothing left to undo.
func (m *ScoreMarks) Undo() (l LabelVector, ok bool) {
	if len(m.history) == 0 {
		return m.Current(), false
	}
	last := m.history[len(m.history)-1]
	m.history = m.history[:len(m.history)-1]
	m.home, m.away = last[0], last[1]
	return m.Current(), true
}

// Current is the score as a label over ScoreDimensions.
func (m *ScoreMarks) Current() LabelVector {
	return LabelVector{m.home, m.away}
}

func (m *ScoreMarks) push() {
	m.history = append(m.history, [2]uint8{m.home, m.away})
}
