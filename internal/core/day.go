package core

// MaxDaysPerFicha bounds the day list of one ficha.
const MaxDaysPerFicha = 31

// DayStatus tags a day entry.
type DayStatus string

const (
	StatusPresent DayStatus = "presente"
	StatusAbsent  DayStatus = "faltou"
	StatusExcused DayStatus = "abonada"
	StatusMedical DayStatus = "atestado"
)

// Normalize maps the empty status to presente.
func (s DayStatus) Normalize() DayStatus {
	if s == "" {
		return StatusPresent
	}
	return s
}

func (s DayStatus) Valid() bool {
	switch s.Normalize() {
	case StatusPresent, StatusAbsent, StatusExcused, StatusMedical:
		return true
	}
	return false
}

// DayEntry is one calendar day of a ficha. Clock fields hold "HH:MM" strings.
type DayEntry struct {
	Day         int       `json:"data" bson:"data"`
	Entrance    string    `json:"entrada" bson:"entrada"`
	LunchOut    string    `json:"saidaAlmoco" bson:"saidaAlmoco"`
	LunchReturn string    `json:"entradaAlmoco" bson:"entradaAlmoco"`
	Exit        string    `json:"saida" bson:"saida"`
	OvertimeIn  string    `json:"extraEntrada" bson:"extraEntrada"`
	OvertimeOut string    `json:"extraSaida" bson:"extraSaida"`
	Status      DayStatus `json:"tipo" bson:"tipo"`
	Note        string    `json:"obs" bson:"obs"`
}

// HasClock reports whether any of the six clock fields is set.
func (d DayEntry) HasClock() bool {
	return d.Entrance != "" || d.LunchOut != "" || d.LunchReturn != "" ||
		d.Exit != "" || d.OvertimeIn != "" || d.OvertimeOut != ""
}

func (d DayEntry) clearClock() DayEntry {
	d.Entrance, d.LunchOut, d.LunchReturn = "", "", ""
	d.Exit, d.OvertimeIn, d.OvertimeOut = "", "", ""
	return d
}

func (d DayEntry) sameClock(o DayEntry) bool {
	return d.Entrance == o.Entrance && d.LunchOut == o.LunchOut && d.LunchReturn == o.LunchReturn &&
		d.Exit == o.Exit && d.OvertimeIn == o.OvertimeIn && d.OvertimeOut == o.OvertimeOut
}

// ReconcileDay applies an edit of old into next and enforces the status/clock
// invariant on what changed. A status changed to anything but presente clears
// the clocks. Otherwise, when the clocks changed, a day with any clock becomes
// presente and a presente day left without clocks becomes faltou. An edit
// touching neither keeps next as sent.
func ReconcileDay(old, next DayEntry) DayEntry {
	old.Status = old.Status.Normalize()
	next.Status = next.Status.Normalize()

	switch {
	case next.Status != old.Status && next.Status != StatusPresent:
		return next.clearClock()
	case !next.sameClock(old):
		if next.HasClock() {
			next.Status = StatusPresent
		} else if next.Status == StatusPresent {
			next.Status = StatusAbsent
		}
	}
	return next
}

// ReconcileDays reconciles every entry of next against the entry with the same
// day number in prev. A day missing from prev is compared with a blank
// presente day, so blank days sent for the first time stay presente.
func ReconcileDays(prev, next []DayEntry) []DayEntry {
	stored := make(map[int]DayEntry, len(prev))
	for _, d := range prev {
		stored[d.Day] = d
	}
	out := make([]DayEntry, len(next))
	for i, d := range next {
		old, ok := stored[d.Day]
		if !ok {
			old = DayEntry{Day: d.Day, Status: StatusPresent}
		}
		out[i] = ReconcileDay(old, d)
	}
	return out
}

// ValidateDays checks the status tags of a day list.
func ValidateDays(days []DayEntry) error {
	if len(days) > MaxDaysPerFicha {
		return &ValidationError{Field: "diasDoMes", Msg: "no máximo 31 dias por ficha"}
	}
	for _, d := range days {
		if !d.Status.Valid() {
			return &ValidationError{Field: "diasDoMes", Msg: "tipo de dia inválido: " + string(d.Status)}
		}
	}
	return nil
}
