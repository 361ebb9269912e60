package slack

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devassist/devassist/pkg/logging"
	"github.com/devassist/devassist/pkg/metrics"
	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

// CommandHandler terminates the Slack slash-command webhook. Commands are
// operator utilities answered synchronously with an ephemeral message.
type CommandHandler struct {
	verifier *Verifier
	monitor  *monitor.Monitor
	manager  *resilience.DegradationManager
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewCommandHandler creates a slash-command handler
func NewCommandHandler(verifier *Verifier, mon *monitor.Monitor, manager *resilience.DegradationManager, m *metrics.Metrics) *CommandHandler {
	return &CommandHandler{
		verifier: verifier,
		monitor:  mon,
		manager:  manager,
		metrics:  m,
		logger:   logging.GetLogger(),
	}
}

// HandleCommands is the gin handler for POST /slack/commands
func (h *CommandHandler) HandleCommands(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	timestamp := c.GetHeader("X-Slack-Request-Timestamp")
	signature := c.GetHeader("X-Slack-Signature")
	if err := h.verifier.Verify(body, timestamp, signature); err != nil {
		h.logger.Warn("Rejected Slack command", "error", err.Error())
		h.metrics.RecordSlackEvent("slash_command", "rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	// Slash commands arrive form-encoded; the signature covers the raw body
	form, err := url.ParseQuery(string(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	command := form.Get("command")
	subcommand := strings.ToLower(strings.TrimSpace(form.Get("text")))

	h.metrics.RecordSlackEvent("slash_command", "accepted")
	h.logger.Info("Handling slash command",
		"command", command,
		"text", subcommand,
		"user_id", form.Get("user_id"),
		"channel_id", form.Get("channel_id"),
	)

	var text string
	switch subcommand {
	case "health":
		text = h.monitor.HealthReport()
	case "services", "status":
		text = h.servicesReport()
	default:
		text = helpText(command)
	}

	c.JSON(http.StatusOK, gin.H{
		"response_type": "ephemeral",
		"text":          text,
	})
}

// servicesReport renders the breaker state of every managed service
func (h *CommandHandler) servicesReport() string {
	statuses := h.manager.GetAllServicesStatus()
	if len(statuses) == 0 {
		return "No services registered."
	}

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Service status:\n")
	for _, name := range names {
		svc := statuses[name]
		fmt.Fprintf(&b, "- %s: %s (%d/%d failures)\n", name, svc.State, svc.FailureCount, svc.MaxFailures)
	}
	if h.manager.CanOperateInDegradedMode() {
		b.WriteString("Degraded operation: available")
	} else {
		b.WriteString("Degraded operation: NOT available")
	}
	return b.String()
}

func helpText(command string) string {
	if command == "" {
		command = "/devassist"
	}
	return fmt.Sprintf("Usage: %s health | services", command)
}
