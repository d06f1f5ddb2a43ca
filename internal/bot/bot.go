// Package bot Telegram 操作指令通道：长轮询拉取业主指令，
// 每条指令一一映射到核心服务的对应操作。
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"homewatch/internal/approval"
	"homewatch/internal/models"
	"homewatch/internal/repository"
	"homewatch/internal/service"
	"homewatch/internal/simulator"
	"homewatch/internal/telegram"
)

const helpText = `🏠 *HomeWatch commands*
/arm - Arm the system
/disarm - Disarm the system
/status - System status
/risk - Current risk snapshot
/who_is_home - Current occupants
/logs [n] - Last n events (default 10)
/pending - Pending face approvals
/approve <id> <name> - Approve a pending face
/alertmode <normal|silent> - Set alert mode
/simulate <type> - Inject a test event
/export [days] - Export security report`

// Bot 指令机器人
type Bot struct {
	client      *telegram.Client
	security    *service.SecurityService
	approvals   *approval.Service
	simulator   *simulator.Simulator
	ownerChatID int64
	pollTimeout int
	logger      *zap.Logger
}

// NewBot 创建指令机器人
func NewBot(
	client *telegram.Client,
	security *service.SecurityService,
	approvals *approval.Service,
	sim *simulator.Simulator,
	ownerChatID int64,
	pollTimeoutSec int,
	logger *zap.Logger,
) *Bot {
	if pollTimeoutSec <= 0 {
		pollTimeoutSec = 30
	}
	return &Bot{
		client:      client,
		security:    security,
		approvals:   approvals,
		simulator:   sim,
		ownerChatID: ownerChatID,
		pollTimeout: pollTimeoutSec,
		logger:      logger,
	}
}

// Run 长轮询主循环，直到 ctx 取消
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("Telegram bot started",
		zap.Int64("owner_chat_id", b.ownerChatID),
	)

	var offset int64
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot stopped")
			return
		default:
		}

		updates, err := b.client.GetUpdates(offset, b.pollTimeout)
		if err != nil {
			b.logger.Error("Failed to poll updates",
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage 处理一条消息，仅接受业主会话的指令
func (b *Bot) handleMessage(ctx context.Context, msg *telegram.IncomingMessage) {
	if msg.Chat.ID != b.ownerChatID {
		b.logger.Warn("Ignoring message from unauthorized chat",
			zap.Int64("chat_id", msg.Chat.ID),
		)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	b.logger.Info("Command received",
		zap.String("command", command),
	)

	reply := b.execute(ctx, command, args)
	if reply == "" {
		return
	}
	if err := b.client.SendMessage(b.ownerChatID, reply); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.String("command", command),
		)
	}
}

func (b *Bot) execute(ctx context.Context, command string, args []string) string {
	switch command {
	case "/start", "/help":
		return helpText
	case "/arm":
		return b.setArmed(ctx, true)
	case "/disarm":
		return b.setArmed(ctx, false)
	case "/status":
		return b.status(ctx)
	case "/risk":
		return b.risk(ctx)
	case "/who_is_home":
		return b.whoIsHome(ctx)
	case "/logs":
		return b.logs(ctx, args)
	case "/pending":
		return b.pending(ctx)
	case "/approve":
		return b.approve(ctx, args)
	case "/alertmode":
		return b.alertMode(ctx, args)
	case "/simulate":
		return b.simulate(ctx, args)
	case "/export":
		return b.export(ctx, args)
	default:
		return "Unknown command. Use /help to list commands."
	}
}

func (b *Bot) setArmed(ctx context.Context, armed bool) string {
	if err := b.security.SetArmed(ctx, armed); err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}
	if armed {
		return "🔒 System armed"
	}
	return "🔓 System disarmed"
}

func (b *Bot) status(ctx context.Context) string {
	status, err := b.security.Status(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}

	armed := "disarmed 🔓"
	if status.Armed {
		armed = "armed 🔒"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🏠 *System status*\n")
	fmt.Fprintf(&sb, "State: %s\n", armed)
	fmt.Fprintf(&sb, "Alert mode: %s\n", status.AlertMode)
	fmt.Fprintf(&sb, "Risk score: %d\n", status.RiskScore)
	if len(status.RecentEvents) > 0 {
		fmt.Fprintf(&sb, "\nRecent events:\n")
		for _, event := range status.RecentEvents {
			fmt.Fprintf(&sb, "• %s %s\n", event.Timestamp.Format("15:04"), event.Description)
		}
	}
	return sb.String()
}

func (b *Bot) risk(ctx context.Context) string {
	snapshot, err := b.security.RiskSnapshot(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}

	icon := "🟢"
	switch snapshot.Level {
	case models.RiskMedium:
		icon = "🟡"
	case models.RiskHigh:
		icon = "🔴"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *Risk: %d (%s)*\n", icon, snapshot.Score, snapshot.Level)
	fmt.Fprintf(&sb, "High-risk events: %d\n", snapshot.Factors.HighRiskEvents)
	fmt.Fprintf(&sb, "Medium-risk events: %d\n", snapshot.Factors.MediumRiskEvents)
	fmt.Fprintf(&sb, "Unknown faces: %d\n", snapshot.Factors.UnknownFaces)
	if snapshot.Factors.NightTime {
		fmt.Fprintf(&sb, "Night hours: yes\n")
	}
	return sb.String()
}

func (b *Bot) whoIsHome(ctx context.Context) string {
	names, err := b.security.WhoIsHome(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}
	if len(names) > 0 {
		return fmt.Sprintf("🏠 At home: %s", strings.Join(names, ", "))
	}

	// 房态窗口内没人时回看最近 30 分钟出现过的人
	recent, err := b.security.RecentPeople(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}
	if len(recent) == 0 {
		return "🏠 Nobody detected at home"
	}
	return fmt.Sprintf("🏠 Nobody in the rooms right now\nRecently seen: %s", strings.Join(recent, ", "))
}

func (b *Bot) logs(ctx context.Context, args []string) string {
	limit := 10
	if len(args) > 0 {
		fmt.Sscanf(args[0], "%d", &limit)
		if limit <= 0 || limit > 50 {
			limit = 10
		}
	}

	page, err := b.security.ListEvents(ctx, repository.EventFilters{}, limit, 0)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}
	if len(page.Events) == 0 {
		return "No events recorded"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 *Last %d events* (of %d)\n", len(page.Events), page.Total)
	for _, event := range page.Events {
		fmt.Fprintf(&sb, "• %s [%s] %s\n",
			event.Timestamp.Format("01-02 15:04"), event.RiskLevel, event.Description)
	}
	return sb.String()
}

func (b *Bot) pending(ctx context.Context) string {
	sightings, err := b.approvals.ListPendingSightings(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}
	identities, err := b.approvals.ListPendingIdentities(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}

	if len(sightings) == 0 && len(identities) == 0 {
		return "✅ No pending approvals"
	}

	var sb strings.Builder
	if len(sightings) > 0 {
		fmt.Fprintf(&sb, "👤 *Pending sightings*\n")
		for _, face := range sightings {
			fmt.Fprintf(&sb, "• `%s` seen %d times, first %s\n",
				face.FaceID, face.DetectionCount, face.FirstSeen.Format("01-02 15:04"))
		}
	}
	if len(identities) > 0 {
		fmt.Fprintf(&sb, "🆔 *Pending identities*\n")
		for _, face := range identities {
			fmt.Fprintf(&sb, "• `%s` %s (%s)\n", face.FaceID, face.Name, face.Category)
		}
	}
	sb.WriteString("\nApprove with /approve <id> <name>")
	return sb.String()
}

func (b *Bot) approve(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "Usage: /approve <id> <name> [category]"
	}
	faceID := args[0]
	name := args[1]
	category := models.CategoryGuest
	if len(args) > 2 {
		category = args[2]
	}

	// 先按陌生人脸审批，找不到再按占位身份审批
	face, err := b.approvals.ApproveUnknownFace(ctx, faceID, name, category)
	if err != nil && strings.Contains(err.Error(), "not found") {
		face, err = b.approvals.ApprovePendingIdentity(ctx, faceID, name, category)
	}
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}
	return fmt.Sprintf("✅ Approved %s as %s (%s)", faceID, face.Name, face.Category)
}

func (b *Bot) alertMode(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /alertmode <normal|silent>"
	}
	mode := strings.ToLower(args[0])
	if err := b.security.SetAlertMode(ctx, mode); err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}
	if mode == models.AlertModeSilent {
		return "🔕 Silent mode: only critical alerts will be sent"
	}
	return "🔔 Normal alert mode"
}

func (b *Bot) simulate(ctx context.Context, args []string) string {
	eventType := models.EventMotion
	if len(args) > 0 {
		eventType = strings.ToLower(args[0])
	}
	event, err := b.simulator.SimulateEvent(ctx, eventType)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}
	return fmt.Sprintf("🧪 Simulated: %s", event.Description)
}

func (b *Bot) export(ctx context.Context, args []string) string {
	days := 7
	if len(args) > 0 {
		fmt.Sscanf(args[0], "%d", &days)
	}

	data, fileName, err := b.security.ExportReport(ctx, days)
	if err != nil {
		return fmt.Sprintf("❌ Failed: %v", err)
	}

	caption := fmt.Sprintf("Security report, last %d days", days)
	if err := b.client.SendDocument(b.ownerChatID, fileName, data, caption); err != nil {
		return fmt.Sprintf("❌ Failed to send report: %v", err)
	}
	return ""
}
