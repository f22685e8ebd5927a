package violation

import (
	"time"
)

// TimestampLayout is the wall-clock layout used for record timestamps,
// issue dates and paid dates in the persisted ledger.
const TimestampLayout = "2006-01-02 15:04:05"

type ViolationType string

const (
	NoHelmet      ViolationType = "no_helmet"
	TripleRiding  ViolationType = "triple_riding"
	NoNumberPlate ViolationType = "no_number_plate"
)

var unitFines = map[ViolationType]int64{
	NoHelmet:      500,
	TripleRiding:  300,
	NoNumberPlate: 1000,
}

// AllTypes returns the closed set of violation types in issuance order.
func AllTypes() []ViolationType {
	return []ViolationType{NoHelmet, TripleRiding, NoNumberPlate}
}

// UnitFine returns the fixed fine amount for one instance of t.
func UnitFine(t ViolationType) (int64, bool) {
	amount, ok := unitFines[t]
	return amount, ok
}

func (t ViolationType) Valid() bool {
	_, ok := unitFines[t]
	return ok
}

type FineStatus string

const (
	FineStatusPending FineStatus = "pending"
	FineStatusPaid    FineStatus = "paid"
)

func (s FineStatus) Valid() bool {
	return s == FineStatusPending || s == FineStatusPaid
}

type DetectionCount struct {
	ImageID      string `json:"image_id"`
	Timestamp    string `json:"timestamp"`
	Motorbike    int    `json:"motorbike"`
	Person       int    `json:"person"`
	Helmet       int    `json:"helmet"`
	LicensePlate int    `json:"license_plate"`
}

// ViolationInstance is the opaque detail attached to one occurrence.
type ViolationInstance map[string]any

type Violations map[ViolationType][]ViolationInstance

// Total is the number of instances across all types.
func (v Violations) Total() int {
	total := 0
	for _, items := range v {
		total += len(items)
	}
	return total
}

type Fine struct {
	FineID        int64         `json:"fine_id"`
	ViolationType ViolationType `json:"violation_type"`
	Amount        int64         `json:"amount"`
	Status        FineStatus    `json:"status"`
	IssuedDate    string        `json:"issued_date"`
	PaidDate      *string       `json:"paid_date"`
	PaymentMethod *string       `json:"payment_method"`
	Remarks       string        `json:"remarks"`
}

type FineLedgerEntry struct {
	TotalFines   int64  `json:"total_fines"`
	FinesList    []Fine `json:"fines_list"`
	PaidFines    int64  `json:"paid_fines"`
	PendingFines int64  `json:"pending_fines"`
}

// Reconciled reports whether the running totals agree with FinesList.
func (e FineLedgerEntry) Reconciled() bool {
	var sum int64
	for _, f := range e.FinesList {
		sum += f.Amount
	}
	return e.TotalFines == sum && e.TotalFines == e.PaidFines+e.PendingFines
}

// Reconcile recomputes the totals from FinesList and reports whether
// anything changed.
func (e *FineLedgerEntry) Reconcile() bool {
	var total, paid int64
	for _, f := range e.FinesList {
		total += f.Amount
		if f.Status == FineStatusPaid {
			paid += f.Amount
		}
	}
	changed := e.TotalFines != total || e.PaidFines != paid || e.PendingFines != total-paid
	e.TotalFines = total
	e.PaidFines = paid
	e.PendingFines = total - paid
	return changed
}

type ViolationRecord struct {
	Image           string          `json:"image"`
	Timestamp       string          `json:"timestamp"`
	LicensePlate    string          `json:"license_plate,omitempty"`
	Detections      DetectionCount  `json:"detections"`
	Violations      Violations      `json:"violations"`
	VehicleCount    int             `json:"vehicle_count"`
	PersonCount     int             `json:"person_count"`
	TotalViolations int             `json:"total_violations"`
	Fines           FineLedgerEntry `json:"fines"`
}

// Clone returns a deep copy. Instance detail maps are copied one level deep.
func (r ViolationRecord) Clone() ViolationRecord {
	out := r
	if r.Violations != nil {
		out.Violations = make(Violations, len(r.Violations))
		for t, items := range r.Violations {
			copied := make([]ViolationInstance, len(items))
			for i, item := range items {
				if item == nil {
					continue
				}
				m := make(ViolationInstance, len(item))
				for k, v := range item {
					m[k] = v
				}
				copied[i] = m
			}
			out.Violations[t] = copied
		}
	}
	if r.Fines.FinesList != nil {
		out.Fines.FinesList = make([]Fine, len(r.Fines.FinesList))
		for i, f := range r.Fines.FinesList {
			if f.PaidDate != nil {
				d := *f.PaidDate
				f.PaidDate = &d
			}
			if f.PaymentMethod != nil {
				m := *f.PaymentMethod
				f.PaymentMethod = &m
			}
			out.Fines.FinesList[i] = f
		}
	}
	return out
}

// DropRetired removes every violation type outside the closed enumeration
// (historically red_light) and returns the dropped keys.
func DropRetired(v Violations) []ViolationType {
	var dropped []ViolationType
	for t := range v {
		if !t.Valid() {
			dropped = append(dropped, t)
			delete(v, t)
		}
	}
	return dropped
}

// FormatTime renders t in TimestampLayout.
func FormatTime(t time.Time) string {
	return t.Format(TimestampLayout)
}
