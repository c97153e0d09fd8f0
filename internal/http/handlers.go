package http

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/log"
	"bilancio/internal/period"
	"bilancio/internal/services"
)

type transactionJSON struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
	RollOver    bool   `json:"roll_over"`
}

type categoryJSON struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	BudgetCents    int64  `json:"budget_cents"`
	SpentCents     int64  `json:"spent_cents"`
	RemainingCents int64  `json:"remaining_cents"`
}

type balanceJSON struct {
	Category     string `json:"category"`
	BalanceCents int64  `json:"balance_cents"`
}

type overviewJSON struct {
	Label       string        `json:"label"`
	IncomeCents int64         `json:"income_cents"`
	SpentCents  int64         `json:"spent_cents"`
	Balances    []balanceJSON `json:"balances"`
}

type cycleJSON struct {
	Kind     string `json:"kind"`
	StartDay int    `json:"start_day,omitempty"`
	EndDay   int    `json:"end_day,omitempty"`
}

func toTransactionJSON(tx core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          tx.ID,
		Type:        string(tx.Type),
		AmountCents: tx.Amount.Cents,
		Amount:      tx.Amount.String(),
		Category:    tx.Category,
		Date:        tx.Date.Format("2006-01-02"),
		Description: tx.Description,
		RollOver:    tx.RollOver,
	}
}

func toCategoryJSON(c core.Category) categoryJSON {
	return categoryJSON{
		ID:             c.ID,
		Name:           c.Name,
		BudgetCents:    c.BudgetCents,
		SpentCents:     c.SpentCents,
		RemainingCents: c.BudgetCents - c.SpentCents,
	}
}

// writeDomainError maps service errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotAuthenticated):
		UnauthorizedError("not signed in").Write(w)
	case errors.Is(err, core.ErrDuplicateName):
		ConflictError("category name already exists").Write(w)
	case errors.Is(err, services.ErrCycleOpen):
		ConflictError("cycle is still open").Write(w)
	case errors.Is(err, sql.ErrNoRows):
		NotFoundError("not found").Write(w)
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrNameTooLong),
		errors.Is(err, core.ErrDescriptionTooLong),
		errors.Is(err, core.ErrInvalidCycle):
		UnprocessableEntityError(err.Error()).Write(w)
	default:
		InternalServerError("internal error").Write(w)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.ledger.CurrentUser()
	if !ok {
		UnauthorizedError("not signed in").Write(w)
		return
	}
	NewResponse().JSON(map[string]any{
		"user_id":      user.ID,
		"display_name": user.DisplayName,
		"anonymous":    user.Anonymous,
	}).Write(w)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ledger.CurrentUser(); !ok {
		UnauthorizedError("not signed in").Write(w)
		return
	}
	cats, _ := s.ledger.Snapshot()
	out := make([]categoryJSON, 0, len(cats))
	for _, c := range cats {
		out = append(out, toCategoryJSON(c))
	}
	NewResponse().JSON(out).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("malformed request body").Write(w)
		return
	}

	name := parser.Get("name")
	var initialBudget core.Money
	if v := parser.Get("initial_budget"); v != "" {
		cents, err := core.ParseDecimalToCents(v)
		if err != nil {
			UnprocessableEntityError("invalid initial budget").Write(w)
			return
		}
		initialBudget = core.Money{Cents: cents}
	}

	if err := s.ledger.AddCategory(r.Context(), name, initialBudget); err != nil {
		writeDomainError(w, err)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(map[string]string{"name": name}).Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteCategory(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ledger.CurrentUser(); !ok {
		UnauthorizedError("not signed in").Write(w)
		return
	}
	_, txs := s.ledger.Snapshot()
	out := make([]transactionJSON, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionJSON(tx))
	}
	NewResponse().JSON(out).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("malformed request body").Write(w)
		return
	}

	cents, err := core.ParseDecimalToCents(parser.Get("amount"))
	if err != nil {
		UnprocessableEntityError("invalid amount").Write(w)
		return
	}

	date := time.Now().UTC()
	if v := parser.Get("date"); v != "" {
		date, err = parseDate(v)
		if err != nil {
			UnprocessableEntityError("invalid date, expected YYYY-MM-DD").Write(w)
			return
		}
	}

	in := ledger.AddTransactionInput{
		Type:        core.TransactionType(parser.Get("type")),
		Amount:      core.Money{Cents: cents},
		Category:    parser.Get("category"),
		Date:        date,
		Description: parser.Get("description"),
	}
	if err := s.ledger.AddTransaction(r.Context(), in); err != nil {
		writeDomainError(w, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction recorded",
		log.FieldCategory, in.Category, log.FieldAmountCents, cents)
	NewResponse().Status(http.StatusCreated).JSON(map[string]string{"status": "created"}).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteTransaction(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	params := ParseMonthParams(r.URL.Query())
	if !params.Valid() {
		BadRequestError("month must be between 1 and 12").Write(w)
		return
	}

	cfg, err := s.ledger.CycleConfig(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	key := overviewCacheKey(params, cfg)
	ov, hit := s.overviewCache.Get(key)
	if !hit {
		ov, err = s.ledger.Overview(r.Context(), params.Year, time.Month(params.Month), cfg)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		s.overviewCache.Set(key, ov)
	}

	out := overviewJSON{
		Label:       ov.Label,
		IncomeCents: ov.Income.Cents,
		SpentCents:  ov.Spent.Cents,
		Balances:    make([]balanceJSON, 0, len(ov.Balances)),
	}
	for _, b := range ov.Balances {
		out.Balances = append(out.Balances, balanceJSON{Category: b.Category, BalanceCents: b.Balance.Cents})
	}
	NewResponse().JSON(out).Write(w)
}

func overviewCacheKey(params MonthParams, cfg core.CycleConfig) string {
	return strconv.Itoa(params.Year) + "-" + strconv.Itoa(params.Month) +
		"-" + string(cfg.Kind) + "-" + strconv.Itoa(cfg.StartDay) + "-" + strconv.Itoa(cfg.EndDay)
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	user, ok := s.ledger.CurrentUser()
	if !ok {
		UnauthorizedError("not signed in").Write(w)
		return
	}

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("malformed request body").Write(w)
		return
	}
	now := time.Now().UTC()
	year := parser.GetInt("year", now.Year())
	month := parser.GetInt("month", int(now.Month()))
	if month < 1 || month > 12 {
		BadRequestError("month must be between 1 and 12").Write(w)
		return
	}

	cfg, err := s.ledger.CycleConfig(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ov, err := s.ledger.Overview(r.Context(), year, time.Month(month), cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	err = s.forwarder.Forward(r.Context(), services.ForwardRequest{
		UserID:   user.ID,
		Year:     year,
		Month:    time.Month(month),
		Config:   cfg,
		Balances: ov.Balances,
		Now:      now,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The forwarder writes to the store directly, so the projections and
	// the overview cache are refreshed here.
	if err := s.ledger.Reload(r.Context()); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Projection reload after forward failed",
			log.FieldError, err.Error())
	}
	s.overviewCache.Purge()

	NewResponse().JSON(map[string]string{"status": "forwarded", "cycle": ov.Label}).Write(w)
}

func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ledger.CycleConfig(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	NewResponse().JSON(cycleJSON{
		Kind:     string(cfg.Kind),
		StartDay: cfg.StartDay,
		EndDay:   cfg.EndDay,
	}).Write(w)
}

// handleCycleLabel returns the display label for a cycle without computing
// the full overview, e.g. for month navigation headers.
func (s *Server) handleCycleLabel(w http.ResponseWriter, r *http.Request) {
	params := ParseMonthParams(r.URL.Query())
	if !params.Valid() {
		BadRequestError("month must be between 1 and 12").Write(w)
		return
	}
	cfg, err := s.ledger.CycleConfig(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	rng, err := period.Boundaries(params.Year, time.Month(params.Month), cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	NewResponse().JSON(map[string]string{"label": rng.Label()}).Write(w)
}

func (s *Server) handlePutCycle(w http.ResponseWriter, r *http.Request) {
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("malformed request body").Write(w)
		return
	}

	cfg := core.CycleConfig{
		Kind:     core.CycleKind(parser.Get("kind")),
		StartDay: parser.GetInt("start_day", 0),
		EndDay:   parser.GetInt("end_day", 0),
	}
	if err := s.ledger.SetCycleConfig(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	s.overviewCache.Purge()
	w.WriteHeader(http.StatusNoContent)
}
