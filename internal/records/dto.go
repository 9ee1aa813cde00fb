package records

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"allowance/internal/core"
	"allowance/internal/log"
)

// Wire shapes of the upstream claims API. Amounts may arrive as JSON numbers
// or strings, and may be missing, in which case they count as zero.
type (
	CheckinDTO struct {
		ID              string `json:"_id,omitempty"`
		Date            string `json:"date"`
		CheckInTime     string `json:"checkInTime,omitempty"`
		CheckOutTime    string `json:"checkOutTime,omitempty"`
		AllowanceAmount Number `json:"allowanceAmount"`
		Condition       string `json:"condition,omitempty"`
	}

	ClaimDTO struct {
		ID          string `json:"_id,omitempty"`
		Date        string `json:"date"`
		RouteID     string `json:"routeId"`
		StationType string `json:"stationType,omitempty"`
		Amount      Number `json:"amount"`
	}

	MiscDTO struct {
		ID         string `json:"_id,omitempty"`
		Date       string `json:"date"`
		Name       string `json:"name"`
		Price      Number `json:"price"`
		Attachment string `json:"attachment,omitempty"`
		Status     string `json:"status,omitempty"`
	}

	HistoryDTO struct {
		Checkins []CheckinDTO `json:"checkins"`
		Claims   []ClaimDTO   `json:"claims"`
	}

	RouteDTO struct {
		ID          string `json:"_id"`
		Headquarter string `json:"headquarter"`
		From        string `json:"from"`
		To          string `json:"to"`
		Distance    Number `json:"distance"`
	}

	RatesDTO struct {
		Headquarter Number `json:"headquarter"`
		ExStation   Number `json:"exStation"`
		OutStation  Number `json:"outStation"`
		TravelPerKm Number `json:"travelPerKm"`
	}

	UserDTO struct {
		ID string `json:"_id,omitempty"`
		AltID          string    `json:"id,omitempty"`
		Name           string    `json:"name"`
		Email          string    `json:"email"`
		RoleLevel      int       `json:"roleLevel"`
		Headquarter    string    `json:"headquarter,omitempty"`
		AssignedRoutes RouteRefs `json:"assignedRoutes,omitempty"`
		AllowanceRates *RatesDTO `json:"allowanceRates,omitempty"`
	}

	LoginResponse struct {
		Token string  `json:"token"`
		User  UserDTO `json:"user"`
	}
)

// RouteRefs decodes assigned routes given either as id strings or as route
// objects carrying "_id" or "id".
type RouteRefs []string

func (r *RouteRefs) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(RouteRefs, 0, len(raw))
	for _, item := range raw {
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			out = append(out, id)
			continue
		}
		var obj struct {
			ID    string `json:"_id"`
			AltID string `json:"id"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("assigned route: %w", err)
		}
		if obj.ID == "" {
			obj.ID = obj.AltID
		}
		if obj.ID != "" {
			out = append(out, obj.ID)
		}
	}
	*r = out
	return nil
}

// clock reads a check-in or check-out instant. RFC 3339 timestamps are used
// as given; bare "15:04" times are placed on the record's date in UTC.
func clock(d core.Date, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func (d CheckinDTO) Record() (core.CheckinRecord, error) {
	date, err := core.ParseDate(d.Date)
	if err != nil {
		return core.CheckinRecord{}, err
	}
	in, err := clock(date, d.CheckInTime)
	if err != nil {
		return core.CheckinRecord{}, fmt.Errorf("check-in: %w", err)
	}
	out, err := clock(date, d.CheckOutTime)
	if err != nil {
		return core.CheckinRecord{}, fmt.Errorf("check-out: %w", err)
	}
	allowance, err := d.AllowanceAmount.Money()
	if err != nil {
		return core.CheckinRecord{}, fmt.Errorf("allowance: %w", err)
	}
	rec := core.CheckinRecord{
		Date:         date,
		CheckInTime:  in,
		CheckOutTime: out,
		Allowance:    allowance,
		Condition:    core.Condition(d.Condition),
	}
	return rec, rec.Validate()
}

func (d ClaimDTO) Record() (core.TravelClaim, error) {
	date, err := core.ParseDate(d.Date)
	if err != nil {
		return core.TravelClaim{}, err
	}
	amt, err := d.Amount.Money()
	if err != nil {
		return core.TravelClaim{}, fmt.Errorf("amount: %w", err)
	}
	rec := core.TravelClaim{Date: date, RouteID: d.RouteID, StationType: d.StationType, Amount: amt}
	return rec, rec.Validate()
}

func (d MiscDTO) Record() (core.MiscClaim, error) {
	date, err := core.ParseDate(d.Date)
	if err != nil {
		return core.MiscClaim{}, err
	}
	price, err := d.Price.Money()
	if err != nil {
		return core.MiscClaim{}, fmt.Errorf("price: %w", err)
	}
	rec := core.MiscClaim{
		ID:            d.ID,
		Date:          date,
		Name:          d.Name,
		Price:         price,
		AttachmentRef: d.Attachment,
		Status:        core.ClaimStatus(d.Status),
	}
	return rec, rec.Validate()
}

func (d RouteDTO) Route() (core.Route, error) {
	if d.ID == "" {
		return core.Route{}, fmt.Errorf("missing id")
	}
	dist, err := d.Distance.Decimal()
	if err != nil {
		return core.Route{}, fmt.Errorf("distance: %w", err)
	}
	if dist.IsNegative() {
		return core.Route{}, fmt.Errorf("distance: %w", core.ErrNegativeAmount)
	}
	km, _ := dist.Float64()
	return core.Route{ID: d.ID, Headquarter: d.Headquarter, From: d.From, To: d.To, DistanceKm: km}, nil
}

func (d *RatesDTO) Rates() (core.AllowanceRates, error) {
	var r core.AllowanceRates
	if d == nil {
		return r, nil
	}
	var err error
	if r.Headquarter, err = d.Headquarter.Money(); err != nil {
		return r, fmt.Errorf("headquarter rate: %w", err)
	}
	if r.ExStation, err = d.ExStation.Money(); err != nil {
		return r, fmt.Errorf("ex-station rate: %w", err)
	}
	if r.OutStation, err = d.OutStation.Money(); err != nil {
		return r, fmt.Errorf("out-station rate: %w", err)
	}
	if r.TravelPerKm, err = d.TravelPerKm.Money(); err != nil {
		return r, fmt.Errorf("travel rate: %w", err)
	}
	return r, nil
}

func (d UserDTO) User() (core.User, error) {
	id := d.ID
	if id == "" {
		id = d.AltID
	}
	if id == "" {
		return core.User{}, fmt.Errorf("user %q: missing id", d.Email)
	}
	rates, err := d.AllowanceRates.Rates()
	if err != nil {
		return core.User{}, fmt.Errorf("user %s: %w", id, err)
	}
	return core.User{
		ID:             id,
		Name:           d.Name,
		Email:          d.Email,
		RoleLevel:      d.RoleLevel,
		Headquarter:    d.Headquarter,
		AssignedRoutes: []string(d.AssignedRoutes),
		Rates:          rates,
	}, nil
}

// Normalizer converts wire records into domain records. Records that fail
// validation are dropped and logged instead of failing the whole request.
type Normalizer struct {
	logger *log.Logger
}

func NewNormalizer(logger *log.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

func (n *Normalizer) drop(kind, id string, err error) {
	n.logger.Warn("Dropping invalid record",
		log.FieldRecordKind, kind,
		"record_id", id,
		log.FieldError, err.Error())
}

func (n *Normalizer) History(h HistoryDTO) core.History {
	out := core.History{
		Checkins: make([]core.CheckinRecord, 0, len(h.Checkins)),
		Claims:   make([]core.TravelClaim, 0, len(h.Claims)),
	}
	for _, d := range h.Checkins {
		rec, err := d.Record()
		if err != nil {
			n.drop(string(core.EntryCheckin), d.ID, err)
			continue
		}
		out.Checkins = append(out.Checkins, rec)
	}
	for _, d := range h.Claims {
		rec, err := d.Record()
		if err != nil {
			n.drop(string(core.EntryClaim), d.ID, err)
			continue
		}
		out.Claims = append(out.Claims, rec)
	}
	return out
}

func (n *Normalizer) Misc(items []MiscDTO) []core.MiscClaim {
	out := make([]core.MiscClaim, 0, len(items))
	for _, d := range items {
		rec, err := d.Record()
		if err != nil {
			n.drop(string(core.EntryMisc), d.ID, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (n *Normalizer) Routes(items []RouteDTO) []core.Route {
	out := make([]core.Route, 0, len(items))
	for _, d := range items {
		r, err := d.Route()
		if err != nil {
			n.drop("route", d.ID, err)
			continue
		}
		out = append(out, r)
	}
	return out
}

func (n *Normalizer) Users(items []UserDTO) []core.User {
	out := make([]core.User, 0, len(items))
	for _, d := range items {
		u, err := d.User()
		if err != nil {
			n.drop("user", d.ID, err)
			continue
		}
		out = append(out, u)
	}
	return out
}

// UserDTOFrom renders a domain user in the upstream wire shape.
func UserDTOFrom(u core.User) UserDTO {
	return UserDTO{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		RoleLevel:      u.RoleLevel,
		Headquarter:    u.Headquarter,
		AssignedRoutes: RouteRefs(u.AssignedRoutes),
		AllowanceRates: &RatesDTO{
			Headquarter: NumberFromMoney(u.Rates.Headquarter),
			ExStation:   NumberFromMoney(u.Rates.ExStation),
			OutStation:  NumberFromMoney(u.Rates.OutStation),
			TravelPerKm: NumberFromMoney(u.Rates.TravelPerKm),
		},
	}
}
