package registry

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"

	id "idledger/pkg/domain"
)

// TestContext is the subset of the e2e context the registry steps drive.
type TestContext interface {
	Start(ctx context.Context, admin string) error
	Principal(name string) (id.Principal, error)
	ActAs(name string) error
	POST(path string, body any) error
	GET(path string) error
	Status() int
	Field(path string) (any, error)
	Remember(label, fingerprint string)
	Recall(label string) (string, error)
}

func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	s := &registrySteps{tc: tc}

	ctx.Step(`^a registry whose genesis admin is "([^"]*)"$`, s.registryWithAdmin)
	ctx.Step(`^I am "([^"]*)"$`, s.iAm)
	ctx.Step(`^I am not authenticated$`, s.anonymous)

	ctx.Step(`^I register as "([^"]*)" with email "([^"]*)" and external id "([^"]*)"$`, s.register)
	ctx.Step(`^I look up the subject "([^"]*)"$`, s.lookUpSubject)
	ctx.Step(`^I grant "([^"]*)" the role "([^"]*)"$`, s.grantRole)
	ctx.Step(`^I transfer admin to "([^"]*)"$`, s.transferAdmin)
	ctx.Step(`^I ask who the admin is$`, s.askAdmin)

	ctx.Step(`^I issue the claim "([^"]*)" to "([^"]*)" as credential "([^"]*)"$`, s.issue)
	ctx.Step(`^I revoke credential "([^"]*)" of "([^"]*)"$`, s.revoke)
	ctx.Step(`^I verify credential "([^"]*)" of "([^"]*)"$`, s.verify)
	ctx.Step(`^I check the status of credential "([^"]*)" of "([^"]*)"$`, s.status)

	ctx.Step(`^the response status should be (\d+)$`, s.statusShouldBe)
	ctx.Step(`^the error should be "([^"]*)"$`, s.errorShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, s.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be the principal of "([^"]*)"$`, s.fieldShouldBePrincipal)
}

type registrySteps struct {
	tc TestContext
}

func (s *registrySteps) registryWithAdmin(ctx context.Context, admin string) error {
	return s.tc.Start(ctx, admin)
}

func (s *registrySteps) iAm(name string) error {
	return s.tc.ActAs(name)
}

func (s *registrySteps) anonymous() error {
	return s.tc.ActAs("")
}

func (s *registrySteps) register(name, email, externalID string) error {
	return s.tc.POST("/api/subjects", map[string]string{
		"display_name": name,
		"email":        email,
		"external_id":  externalID,
	})
}

func (s *registrySteps) lookUpSubject(name string) error {
	p, err := s.tc.Principal(name)
	if err != nil {
		return err
	}
	return s.tc.GET("/api/subjects/" + p.String())
}

func (s *registrySteps) grantRole(name, role string) error {
	p, err := s.tc.Principal(name)
	if err != nil {
		return err
	}
	return s.tc.POST("/api/roles", map[string]string{"target": p.String(), "role": role})
}

func (s *registrySteps) transferAdmin(name string) error {
	p, err := s.tc.Principal(name)
	if err != nil {
		return err
	}
	return s.tc.POST("/api/admin/transfer", map[string]string{"new_admin": p.String()})
}

func (s *registrySteps) askAdmin() error {
	return s.tc.GET("/api/admin")
}

func (s *registrySteps) issue(claim, name, label string) error {
	p, err := s.tc.Principal(name)
	if err != nil {
		return err
	}
	if err := s.tc.POST("/api/credentials", map[string]string{"subject": p.String(), "claim": claim}); err != nil {
		return err
	}
	if s.tc.Status() != 201 {
		return nil
	}
	fp, err := s.tc.Field("fingerprint")
	if err != nil {
		return err
	}
	s.tc.Remember(label, fmt.Sprint(fp))
	return nil
}

func (s *registrySteps) credentialBody(label, name string) (map[string]string, error) {
	p, err := s.tc.Principal(name)
	if err != nil {
		return nil, err
	}
	fp, err := s.tc.Recall(label)
	if err != nil {
		return nil, err
	}
	return map[string]string{"subject": p.String(), "fingerprint": fp}, nil
}

func (s *registrySteps) revoke(label, name string) error {
	body, err := s.credentialBody(label, name)
	if err != nil {
		return err
	}
	return s.tc.POST("/api/credentials/revoke", body)
}

func (s *registrySteps) verify(label, name string) error {
	body, err := s.credentialBody(label, name)
	if err != nil {
		return err
	}
	return s.tc.POST("/api/credentials/verify", body)
}

func (s *registrySteps) status(label, name string) error {
	body, err := s.credentialBody(label, name)
	if err != nil {
		return err
	}
	return s.tc.GET("/api/credentials/" + body["subject"] + "/" + body["fingerprint"] + "/status")
}

func (s *registrySteps) statusShouldBe(code int) error {
	if s.tc.Status() != code {
		return fmt.Errorf("expected status %d, got %d", code, s.tc.Status())
	}
	return nil
}

func (s *registrySteps) errorShouldBe(code string) error {
	return s.fieldShouldBe("error", code)
}

func (s *registrySteps) fieldShouldBe(field, want string) error {
	v, err := s.tc.Field(field)
	if err != nil {
		return err
	}
	var got string
	switch x := v.(type) {
	case float64:
		got = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		got = fmt.Sprint(x)
	}
	if got != want {
		return fmt.Errorf("expected %s to be %q, got %q", field, want, got)
	}
	return nil
}

func (s *registrySteps) fieldShouldBePrincipal(field, name string) error {
	p, err := s.tc.Principal(name)
	if err != nil {
		return err
	}
	return s.fieldShouldBe(field, p.String())
}
