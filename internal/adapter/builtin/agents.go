// Package builtin ships deterministic agents for every onboarding role so the
// bundled templates run end to end without external services. Each agent asks
// for what it is missing and completes once the context has it.
package builtin

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Strob0t/OnboardForge/internal/domain/agent"
	"github.com/Strob0t/OnboardForge/internal/domain/taskcontext"
	"github.com/Strob0t/OnboardForge/internal/domain/uirequest"
	"github.com/Strob0t/OnboardForge/internal/port/agentbackend"
)

// All returns one agent per onboarding role.
func All() []agentbackend.Agent {
	return []agentbackend.Agent{
		agentbackend.Func{R: agent.RoleBusinessDiscovery, Fn: discover},
		agentbackend.Func{R: agent.RoleDataCollection, Fn: collectTaxID},
		agentbackend.Func{R: agent.RoleEntityCompliance, Fn: checkEntity},
		agentbackend.Func{R: agent.RoleUXOptimization, Fn: tailorLayout},
		agentbackend.Func{R: agent.RolePayment, Fn: setUpBilling},
		agentbackend.Func{R: agent.RoleCelebration, Fn: celebrate},
	}
}

var einPattern = regexp.MustCompile(`^\d{2}-\d{7}$`)

// EntityTypes are the legal forms the compliance agent knows documents for.
var EntityTypes = map[string][]string{
	"llc":                 {"articles_of_organization", "operating_agreement"},
	"corporation":         {"articles_of_incorporation", "bylaws"},
	"sole_proprietorship": {"dba_certificate"},
	"partnership":         {"partnership_agreement"},
	"nonprofit":           {"articles_of_incorporation", "irs_determination_letter"},
}

// PaymentMethods are accepted billing methods.
var PaymentMethods = []string{"card", "ach", "invoice"}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func discover(_ context.Context, req agent.Request, _ *taskcontext.TaskContext) (agent.Response, error) {
	var fields []uirequest.Field
	if str(req.Data, "business_name") == "" {
		fields = append(fields, uirequest.Field{Name: "business_name", Label: "Business name", Type: "text", Required: true})
	}
	if str(req.Data, "industry") == "" {
		fields = append(fields, uirequest.Field{Name: "industry", Label: "Industry", Type: "text", Required: true})
	}
	if len(fields) > 0 {
		fields = append(fields, uirequest.Field{Name: "employee_count", Label: "Number of employees", Type: "number"})
		return agent.AskUser("The business profile is incomplete", uirequest.Request{
			Title:       "Tell us about your business",
			Description: "We use this to tailor the rest of the onboarding.",
			Fields:      fields,
		}), nil
	}

	industry := strings.ToLower(str(req.Data, "industry"))
	return agent.Complete(
		fmt.Sprintf("Profiled %s in %s", str(req.Data, "business_name"), industry),
		map[string]any{"industry": industry, "business_size": sizeOf(req.Data["employee_count"])},
	), nil
}

func sizeOf(v any) string {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case int:
		n = float64(x)
	default:
		return "unknown"
	}
	switch {
	case n < 10:
		return "micro"
	case n < 50:
		return "small"
	case n < 250:
		return "medium"
	}
	return "large"
}

func collectTaxID(_ context.Context, req agent.Request, _ *taskcontext.TaskContext) (agent.Response, error) {
	ein := str(req.Data, "ein")
	if ein == "" || !einPattern.MatchString(ein) {
		reason := "The employer identification number is missing"
		desc := "Nine digits, formatted as 12-3456789."
		if ein != "" {
			reason = fmt.Sprintf("EIN %q is not in the 12-3456789 format", ein)
			desc = "That number did not look right. " + desc
		}
		return agent.AskUser(reason, uirequest.Request{
			Title:        "Employer Identification Number",
			Description:  desc,
			Presentation: map[string]any{"mask": "99-9999999"},
			Fields:       []uirequest.Field{{Name: "ein", Label: "EIN", Type: "text", Required: true}},
		}), nil
	}
	return agent.Complete("EIN format verified", map[string]any{"ein_verified": true}), nil
}

func checkEntity(_ context.Context, req agent.Request, _ *taskcontext.TaskContext) (agent.Response, error) {
	entity := strings.ToLower(str(req.Data, "entity_type"))
	if entity == "" {
		options := make([]string, 0, len(EntityTypes))
		for k := range EntityTypes {
			options = append(options, k)
		}
		slices.Sort(options)
		return agent.AskUser("The legal entity type is unknown", uirequest.Request{
			Title:        "Legal entity",
			Presentation: map[string]any{"widget": "select", "options": options},
			Fields:       []uirequest.Field{{Name: "entity_type", Label: "Entity type", Type: "select", Required: true}},
		}), nil
	}
	docs, ok := EntityTypes[entity]
	if !ok {
		return agent.Failf("unsupported_entity_type", "entity type %q is not supported", entity), nil
	}
	return agent.Complete(
		fmt.Sprintf("Queued compliance review for a %s with %d documents", entity, len(docs)),
		map[string]any{
			"entity_type":        entity,
			"compliance_status":  "pending_review",
			"required_documents": docs,
		},
	), nil
}

func tailorLayout(_ context.Context, req agent.Request, _ *taskcontext.TaskContext) (agent.Response, error) {
	layout := "standard"
	switch str(req.Data, "industry") {
	case "retail", "ecommerce":
		layout = "sales_first"
	case "software", "saas":
		layout = "metrics_first"
	case "consulting", "services":
		layout = "invoices_first"
	}
	return agent.Complete("Picked a dashboard layout for the industry", map[string]any{"dashboard_layout": layout}), nil
}

func setUpBilling(_ context.Context, req agent.Request, tc *taskcontext.TaskContext) (agent.Response, error) {
	method := strings.ToLower(str(req.Data, "payment_method"))
	if !slices.Contains(PaymentMethods, method) {
		reason := "No payment method on file"
		if method != "" {
			reason = fmt.Sprintf("Payment method %q is not accepted", method)
		}
		return agent.AskUser(reason, uirequest.Request{
			Title:        "Payment method",
			Presentation: map[string]any{"widget": "select", "options": PaymentMethods},
			Fields:       []uirequest.Field{{Name: "payment_method", Label: "How would you like to pay?", Type: "select", Required: true}},
		}), nil
	}

	account := "acct_" + strings.ReplaceAll(tc.ID, "-", "")
	if len(account) > 17 {
		account = account[:17]
	}
	return agent.Complete(
		fmt.Sprintf("Opened billing account %s paying by %s", account, method),
		map[string]any{"payment_method": method, "billing_account": account, "billing_cycle": "monthly"},
	), nil
}

func celebrate(_ context.Context, req agent.Request, _ *taskcontext.TaskContext) (agent.Response, error) {
	name := str(req.Data, "business_name")
	if name == "" {
		name = "there"
	}
	return agent.Complete("Onboarding wrapped up", map[string]any{
		"welcome_message": fmt.Sprintf("Welcome aboard, %s! Your workspace is ready.", name),
	}), nil
}
