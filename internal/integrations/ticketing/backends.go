package ticketing

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/domain"
	"agentdesk/internal/gateway"
)

type ServiceNow struct {
	gw  *gateway.Client
	now func() time.Time
}

func (s *ServiceNow) Name() string        { return "servicenow" }
func (s *ServiceNow) DisplayName() string { return DisplayName(s.Name()) }

func (s *ServiceNow) CreateTicket(ctx context.Context, req Request) (domain.Ticket, error) {
	body := map[string]string{
		"short_description": subject(req),
		"description":       description(req),
		"category":          req.Category,
		"correlation_id":    req.InteractionID,
		"contact_type":      string(req.Channel),
	}
	var out struct {
		Result struct {
			Number string `json:"number"`
			SysID  string `json:"sys_id"`
		} `json:"result"`
	}
	if err := s.gw.DoJSON(ctx, http.MethodPost, "/api/now/table/incident", body, &out); err != nil {
		return domain.Ticket{}, failed(s.Name(), err)
	}
	if out.Result.Number == "" {
		return domain.Ticket{}, failed(s.Name(), errors.New("response has no incident number"))
	}
	return domain.Ticket{
		TicketID:      out.Result.Number,
		TicketSystem:  s.Name(),
		URL:           s.gw.BaseURL() + "/nav_to.do?uri=incident.do?sys_id=" + out.Result.SysID,
		CreatedAt:     s.now(),
		InteractionID: req.InteractionID,
		Reason:        req.Reason,
	}, nil
}

type Jira struct {
	gw      *gateway.Client
	project string
	now     func() time.Time
}

func (j *Jira) Name() string        { return "jira" }
func (j *Jira) DisplayName() string { return DisplayName(j.Name()) }

func (j *Jira) CreateTicket(ctx context.Context, req Request) (domain.Ticket, error) {
	body := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": j.project},
			"summary":     subject(req),
			"description": description(req),
			"issuetype":   map[string]string{"name": "Incident"},
			"labels":      []string{req.Intent, "interaction-" + req.InteractionID},
		},
	}
	var out struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := j.gw.DoJSON(ctx, http.MethodPost, "/rest/api/2/issue", body, &out); err != nil {
		return domain.Ticket{}, failed(j.Name(), err)
	}
	if out.Key == "" {
		return domain.Ticket{}, failed(j.Name(), errors.New("response has no issue key"))
	}
	return domain.Ticket{
		TicketID:      out.Key,
		TicketSystem:  j.Name(),
		URL:           j.gw.BaseURL() + "/browse/" + out.Key,
		CreatedAt:     j.now(),
		InteractionID: req.InteractionID,
		Reason:        req.Reason,
	}, nil
}

type Zendesk struct {
	gw  *gateway.Client
	now func() time.Time
}

func (z *Zendesk) Name() string        { return "zendesk" }
func (z *Zendesk) DisplayName() string { return DisplayName(z.Name()) }

func (z *Zendesk) CreateTicket(ctx context.Context, req Request) (domain.Ticket, error) {
	body := map[string]any{
		"ticket": map[string]any{
			"subject":     subject(req),
			"comment":     map[string]string{"body": description(req)},
			"tags":        []string{req.Intent, string(req.Channel)},
			"external_id": req.InteractionID,
		},
	}
	var out struct {
		Ticket struct {
			ID int64 `json:"id"`
		} `json:"ticket"`
	}
	if err := z.gw.DoJSON(ctx, http.MethodPost, "/api/v2/tickets.json", body, &out); err != nil {
		return domain.Ticket{}, failed(z.Name(), err)
	}
	if out.Ticket.ID == 0 {
		return domain.Ticket{}, failed(z.Name(), errors.New("response has no ticket id"))
	}
	id := strconv.FormatInt(out.Ticket.ID, 10)
	return domain.Ticket{
		TicketID:      id,
		TicketSystem:  z.Name(),
		URL:           z.gw.BaseURL() + "/agent/tickets/" + id,
		CreatedAt:     z.now(),
		InteractionID: req.InteractionID,
		Reason:        req.Reason,
	}, nil
}

const salesforceAPIVersion = "v59.0"

type Salesforce struct {
	gw  *gateway.Client
	now func() time.Time
}

func (s *Salesforce) Name() string        { return "salesforce" }
func (s *Salesforce) DisplayName() string { return DisplayName(s.Name()) }

// CreateTicket inserts a Case and reads back its CaseNumber, which is what
// agents search by.
func (s *Salesforce) CreateTicket(ctx context.Context, req Request) (domain.Ticket, error) {
	body := map[string]string{
		"Subject":     subject(req),
		"Description": description(req),
		"Origin":      string(req.Channel),
		"Type":        req.Category,
		"Reason":      req.Reason,
	}
	var created struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
	}
	base := "/services/data/" + salesforceAPIVersion + "/sobjects/Case"
	if err := s.gw.DoJSON(ctx, http.MethodPost, base, body, &created); err != nil {
		return domain.Ticket{}, failed(s.Name(), err)
	}
	if created.ID == "" {
		return domain.Ticket{}, failed(s.Name(), errors.New("response has no case id"))
	}

	var record struct {
		CaseNumber string `json:"CaseNumber"`
	}
	path := base + "/" + url.PathEscape(created.ID) + "?fields=CaseNumber"
	if err := s.gw.DoJSON(ctx, http.MethodGet, path, nil, &record); err != nil || record.CaseNumber == "" {
		// The case exists; fall back to its record id rather than failing.
		record.CaseNumber = created.ID
	}
	return domain.Ticket{
		TicketID:      record.CaseNumber,
		TicketSystem:  s.Name(),
		URL:           s.gw.BaseURL() + "/lightning/r/Case/" + created.ID + "/view",
		CreatedAt:     s.now(),
		InteractionID: req.InteractionID,
		Reason:        req.Reason,
	}, nil
}

// Demo issues INC-xxxxxx ids locally without any network call.
type Demo struct {
	newID func() string
	now   func() time.Time
}

func NewDemo() *Demo {
	return &Demo{newID: demoTicketID, now: time.Now}
}

func (d *Demo) Name() string        { return "demo" }
func (d *Demo) DisplayName() string { return DisplayName(d.Name()) }

func (d *Demo) CreateTicket(ctx context.Context, req Request) (domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return domain.Ticket{}, failed(d.Name(), err)
	}
	id := d.newID()
	return domain.Ticket{
		TicketID:      id,
		TicketSystem:  d.Name(),
		URL:           "https://demo.agentdesk.local/tickets/" + id,
		CreatedAt:     d.now(),
		InteractionID: req.InteractionID,
		Reason:        req.Reason,
	}, nil
}

func demoTicketID() string {
	u := uuid.New()
	n := binary.BigEndian.Uint32(u[:4])
	return fmt.Sprintf("INC-%06d", 100000+n%900000)
}
