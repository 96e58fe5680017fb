package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	POSTWithHeaders(path string, body interface{}, headers map[string]string) error
	OperatorHeaders() (map[string]string, error)
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetEventID() string
	GetAuditID() int64
	SetAuditID(id int64)
}

// RegisterSteps registers audit ledger step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &auditSteps{tc: tc}

	// Pipeline observation steps
	ctx.Step(`^the audit record for the event should have status "([^"]*)" within (\d+) seconds$`, steps.auditRecordShouldReachStatus)
	ctx.Step(`^I fetch the audit record$`, steps.fetchAuditRecord)
	ctx.Step(`^the audit record verdict should be "([^"]*)"$`, steps.auditVerdictShouldBe)

	// Resolution steps
	ctx.Step(`^I approve the audit record$`, steps.approveAuditRecord)
	ctx.Step(`^I reject the audit record$`, steps.rejectAuditRecord)
	ctx.Step(`^I approve the audit record again$`, steps.approveAuditRecord)

	// Listing steps
	ctx.Step(`^I list audit records with status "([^"]*)"$`, steps.listAuditRecordsWithStatus)
	ctx.Step(`^every listed record should have status "([^"]*)"$`, steps.everyListedRecordShouldHaveStatus)
	ctx.Step(`^I request the audit list without a token$`, steps.requestAuditListWithoutToken)
}

type auditSteps struct {
	tc TestContext
}

type listResponse struct {
	Records []map[string]interface{} `json:"records"`
	Total   int64                    `json:"total"`
}

const pollPageSize = 100

// findAuditRecord locates the audit record for the scenario's event. The
// ledger lists in append order, so fresh records sit on the tail page; the
// page before it is scanned too in case the tail rolled over between calls.
func (s *auditSteps) findAuditRecord(headers map[string]string) (map[string]interface{}, error) {
	eventID := s.tc.GetEventID()
	if eventID == "" {
		return nil, fmt.Errorf("no event submitted in this scenario")
	}

	page, err := s.fetchPage(headers, 1)
	if err != nil {
		return nil, err
	}
	lastPage := int(page.Total+pollPageSize-1) / pollPageSize
	if lastPage > 1 {
		page, err = s.fetchPage(headers, lastPage)
		if err != nil {
			return nil, err
		}
	}

	if rec := matchEventID(page.Records, eventID); rec != nil {
		return rec, nil
	}
	if lastPage > 2 {
		prev, err := s.fetchPage(headers, lastPage-1)
		if err != nil {
			return nil, err
		}
		if rec := matchEventID(prev.Records, eventID); rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *auditSteps) fetchPage(headers map[string]string, page int) (*listResponse, error) {
	if err := s.tc.GET(fmt.Sprintf("/audit?limit=%d&page=%d", pollPageSize, page), headers); err != nil {
		return nil, err
	}
	if status := s.tc.GetLastResponseStatus(); status != 200 {
		return nil, fmt.Errorf("audit list returned status %d: %s", status, string(s.tc.GetLastResponseBody()))
	}
	var decoded listResponse
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse audit list: %w", err)
	}
	return &decoded, nil
}

func matchEventID(records []map[string]interface{}, eventID string) map[string]interface{} {
	for _, rec := range records {
		if fmt.Sprint(rec["event_id"]) == eventID {
			return rec
		}
	}
	return nil
}

func (s *auditSteps) auditRecordShouldReachStatus(ctx context.Context, expectedStatus string, seconds int) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	lastStatus := "(no record yet)"
	for {
		rec, err := s.findAuditRecord(headers)
		if err != nil {
			return err
		}
		if rec != nil {
			if id, ok := rec["audit_id"].(float64); ok {
				s.tc.SetAuditID(int64(id))
			}
			lastStatus = fmt.Sprint(rec["status"])
			if lastStatus == expectedStatus {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("audit record for event %s did not reach status %q within %ds (last seen: %s)",
				s.tc.GetEventID(), expectedStatus, seconds, lastStatus)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (s *auditSteps) fetchAuditRecord(ctx context.Context) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	if s.tc.GetAuditID() == 0 {
		return fmt.Errorf("no audit record located in this scenario")
	}
	return s.tc.GET(fmt.Sprintf("/audit/%d", s.tc.GetAuditID()), headers)
}

func (s *auditSteps) auditVerdictShouldBe(ctx context.Context, expectedVerdict string) error {
	if err := s.fetchAuditRecord(ctx); err != nil {
		return err
	}
	verdict, err := s.tc.GetResponseField("verdict")
	if err != nil {
		return err
	}
	if verdict != expectedVerdict {
		return fmt.Errorf("expected verdict %q but got %q", expectedVerdict, verdict)
	}
	return nil
}

func (s *auditSteps) resolveAuditRecord(approved bool) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	if s.tc.GetAuditID() == 0 {
		return fmt.Errorf("no audit record located in this scenario")
	}
	body := map[string]interface{}{"approved": approved}
	return s.tc.POSTWithHeaders(fmt.Sprintf("/audit/%d/resolve", s.tc.GetAuditID()), body, headers)
}

func (s *auditSteps) approveAuditRecord(ctx context.Context) error {
	return s.resolveAuditRecord(true)
}

func (s *auditSteps) rejectAuditRecord(ctx context.Context) error {
	return s.resolveAuditRecord(false)
}

func (s *auditSteps) listAuditRecordsWithStatus(ctx context.Context, status string) error {
	headers, err := s.tc.OperatorHeaders()
	if err != nil {
		return err
	}
	return s.tc.GET("/audit?status="+status, headers)
}

func (s *auditSteps) everyListedRecordShouldHaveStatus(ctx context.Context, expectedStatus string) error {
	var decoded listResponse
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &decoded); err != nil {
		return fmt.Errorf("failed to parse audit list: %w", err)
	}
	if len(decoded.Records) == 0 {
		return fmt.Errorf("audit list is empty, expected at least one %q record", expectedStatus)
	}
	for _, rec := range decoded.Records {
		if got := fmt.Sprint(rec["status"]); got != expectedStatus {
			return fmt.Errorf("record %v has status %q, expected %q", rec["audit_id"], got, expectedStatus)
		}
	}
	return nil
}

func (s *auditSteps) requestAuditListWithoutToken(ctx context.Context) error {
	return s.tc.GET("/audit", nil)
}
