// Package runcontext derives run tags from the platform environment a
// process runs in: server metadata from environment variables, the
// creating entity from the server type and the acting user from the
// authentication service.
package runcontext

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/facultyai/mlflow-faculty/config"
	"github.com/facultyai/mlflow-faculty/internal/rest"
)

// Tag names set on runs created inside the platform.
const (
	TagUserID    = "mlflow.faculty.user.userId"
	TagUsername  = "mlflow.faculty.user.username"
	TagCreatedBy = "mlflow.faculty.createdBy"
	TagAPIMode   = "mlflow.faculty.api.mode"
)

// envTags maps environment variables to the tags carrying their values.
var envTags = []struct {
	env string
	tag string
}{
	{"FACULTY_PROJECT_ID", "mlflow.faculty.project.projectId"},
	{"FACULTY_SERVER_ID", "mlflow.faculty.server.serverId"},
	{"FACULTY_SERVER_NAME", "mlflow.faculty.server.name"},
	{"NUM_CPUS", "mlflow.faculty.server.cpus"},
	{"AVAILABLE_MEMORY_MB", "mlflow.faculty.server.memoryMb"},
	{"NUM_GPUS", "mlflow.faculty.server.gpus"},
	{"FACULTY_JOB_ID", "mlflow.faculty.job.jobId"},
	{"FACULTY_JOB_NAME", "mlflow.faculty.job.name"},
	{"FACULTY_RUN_ID", "mlflow.faculty.job.runId"},
	{"FACULTY_RUN_NUMBER", "mlflow.faculty.job.runNumber"},
	{"FACULTY_SUBRUN_ID", "mlflow.faculty.job.subrunId"},
	{"FACULTY_SUBRUN_NUMBER", "mlflow.faculty.job.subrunNumber"},
	{"FACULTY_APP_ID", "mlflow.faculty.app.appId"},
	{"FACULTY_API_ID", "mlflow.faculty.api.apiId"},
}

var (
	jobServerType     = regexp.MustCompile("job")
	appServerType     = regexp.MustCompile("app")
	prodAPIServerType = regexp.MustCompile("prod.*api")
	devAPIServerType  = regexp.MustCompile("dev.*api")
)

// Account identifies the authenticated platform user.
type Account struct {
	UserID   uuid.UUID
	Username string
}

// accountAPI fetches the authenticated account.
type accountAPI interface {
	AuthenticatedAccount(ctx context.Context) (Account, error)
}

// Provider computes run tags for the current environment. The account
// lookup is performed at most once per provider; failures mean the user
// tags are simply omitted.
type Provider struct {
	getenv func(string) string

	accountOnce sync.Once
	accounts    accountAPI
	account     *Account
}

// NewProvider builds a provider using the process environment and the
// ambient credential profile for account lookups.
func NewProvider() *Provider {
	return &Provider{getenv: os.Getenv}
}

// InContext reports whether the process is running inside the platform.
func (p *Provider) InContext() bool {
	return p.getenv("FACULTY_PROJECT_ID") != ""
}

// Tags returns all run tags derivable from the current environment.
func (p *Provider) Tags(ctx context.Context) map[string]string {
	tags := make(map[string]string)

	for _, mapping := range envTags {
		if value := p.getenv(mapping.env); value != "" {
			tags[mapping.tag] = value
		}
	}

	for tag, value := range createdByTags(p.getenv("FACULTY_SERVER_TYPE")) {
		tags[tag] = value
	}

	if account := p.authenticatedAccount(ctx); account != nil {
		tags[TagUserID] = account.UserID.String()
		tags[TagUsername] = account.Username
	}

	return tags
}

// createdByTags classifies the creating entity from the server type.
func createdByTags(serverType string) map[string]string {
	switch {
	case serverType == "":
		return map[string]string{TagCreatedBy: "user"}
	case jobServerType.MatchString(serverType):
		return map[string]string{TagCreatedBy: "job"}
	case appServerType.MatchString(serverType):
		return map[string]string{TagCreatedBy: "app"}
	case prodAPIServerType.MatchString(serverType):
		return map[string]string{TagCreatedBy: "api", TagAPIMode: "deploy"}
	case devAPIServerType.MatchString(serverType):
		return map[string]string{TagCreatedBy: "api", TagAPIMode: "test"}
	default:
		return map[string]string{TagCreatedBy: "user"}
	}
}

func (p *Provider) authenticatedAccount(ctx context.Context) *Account {
	p.accountOnce.Do(func() {
		client := p.accounts
		if client == nil {
			profile, err := config.Load()
			if err != nil {
				return
			}
			tokens := rest.NewCredentialsTokenSource(profile)
			client = newAccountClient(profile.ServiceURL("hudson"), tokens)
		}
		account, err := client.AuthenticatedAccount(ctx)
		if err != nil {
			return
		}
		p.account = &account
	})
	return p.account
}

// accountClient talks to the authentication service's account endpoint.
type accountClient struct {
	rest *rest.Client
}

func newAccountClient(baseURL string, tokens rest.TokenSource) *accountClient {
	return &accountClient{rest: rest.NewClient(baseURL, tokens)}
}

// AuthenticatedAccount fetches the account behind the client's credentials.
func (c *accountClient) AuthenticatedAccount(ctx context.Context) (Account, error) {
	var resp struct {
		Account struct {
			UserID   uuid.UUID `json:"userId"`
			Username string    `json:"username"`
		} `json:"account"`
	}
	if err := c.rest.Do(ctx, http.MethodGet, "/authenticate", nil, nil, &resp); err != nil {
		return Account{}, err
	}
	return Account{UserID: resp.Account.UserID, Username: resp.Account.Username}, nil
}
