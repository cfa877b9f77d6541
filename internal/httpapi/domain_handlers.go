package httpapi

import (
	"net/http"
	"strings"
	"time"

	"fieldreport.org/internal/auth"
	"fieldreport.org/internal/crm"
	"fieldreport.org/internal/report"
	"fieldreport.org/internal/sysconfig"
)

func (a *API) priceSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusBadRequest, "missing query")
		return
	}
	res, err := a.deps.Prices.Search(r.Context(), query)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type crmSubmitRequest struct {
	Customer          string   `json:"customer"`
	Channel           string   `json:"channel"`
	CompetitorChannel string   `json:"competitor_channel"`
	Action            string   `json:"action"`
	CustomerType      string   `json:"customer_type"`
	LostRecovery      string   `json:"lost_recovery"`
	Industry          string   `json:"industry"`
	VisitDate         string   `json:"visit_date"`
	Products          []string `json:"products"`
	WorkContent       string   `json:"work_content"`
	EstDate           string   `json:"est_date"`
	Amount            string   `json:"amount"`
	Dependencies      string   `json:"dependencies"`
	Itinerary         string   `json:"itinerary"`
	CompetitorBrand   string   `json:"competitor_brand"`
	Owner             string   `json:"owner"`
}

func (a *API) crmSubmit(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	var req crmSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	visit, err := crm.ParseVisitDate(req.VisitDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry := crm.Entry{
		Submitter:         id.Name,
		Customer:          req.Customer,
		Channel:           req.Channel,
		CompetitorChannel: req.CompetitorChannel,
		Action:            req.Action,
		CustomerType:      req.CustomerType,
		LostRecovery:      req.LostRecovery,
		Industry:          req.Industry,
		VisitDate:         visit,
		Products:          req.Products,
		WorkContent:       req.WorkContent,
		EstDate:           req.EstDate,
		Amount:            req.Amount,
		Dependencies:      req.Dependencies,
		Itinerary:         req.Itinerary,
		CompetitorBrand:   req.CompetitorBrand,
		Owner:             req.Owner,
	}
	if err := a.deps.CRM.Submit(r.Context(), entry); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "submitted"})
}

func (a *API) crmRollup(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	q := r.URL.Query()

	filter := crm.Filter{
		Customer: q.Get("customer"),
		Product:  q.Get("product"),
		Industry: q.Get("industry"),
	}
	// Sales see only their own pipeline; managers may filter freely.
	if id.CanViewAll() {
		filter.Submitter = q.Get("submitter")
	} else {
		filter.Submitter = id.Name
	}
	if from, ok := report.ParseDate(q.Get("from")); ok {
		filter.From = from
	}
	if to, ok := report.ParseDate(q.Get("to")); ok {
		filter.To = to
	}

	rows, err := a.deps.CRM.Rows(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, crm.Rollup(rows, filter))
}

func (a *API) configOptions(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if strings.TrimSpace(category) == "" {
		respondError(w, http.StatusBadRequest, "missing category")
		return
	}
	values, err := a.deps.Config.Values(r.Context(), category)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "values": values})
}

func (a *API) holidays(w http.ResponseWriter, r *http.Request) {
	values, err := a.deps.Config.Values(r.Context(), sysconfig.CategoryHoliday)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": values})
}

func (a *API) nextWorkday(w http.ResponseWriter, r *http.Request) {
	from := time.Now()
	if d, ok := report.ParseDate(r.URL.Query().Get("from")); ok {
		from = d
	}
	day, err := a.deps.Config.NextWorkday(r.Context(), from)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"next_workday": day.Format(report.DateLayout)})
}

func (a *API) manualBackup(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	if err := a.deps.Maintenance.RunBackupNow(r.Context(), id.Email); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "backup_started"})
}

// uploadHolidays accepts the calendar workbook as the raw request body
// or as a multipart file field named "file".
func (a *API) uploadHolidays(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		f, _, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer f.Close()
		body = f
	}
	dates, err := a.deps.Config.ImportHolidayWorkbook(r.Context(), body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": len(dates), "holidays": dates})
}
