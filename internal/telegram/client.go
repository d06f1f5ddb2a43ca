// Package telegram Telegram Bot API 客户端：面向单一业主会话的
// 消息推送与长轮询指令拉取。
package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.telegram.org"

// apiResponse Bot API 统一响应外壳
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Chat 会话信息
type Chat struct {
	ID int64 `json:"id"`
}

// IncomingMessage 收到的消息
type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Update getUpdates 返回的单条更新
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message"`
}

// Client Telegram Bot API 客户端
type Client struct {
	httpClient *resty.Client
	token      string
	logger     *zap.Logger
}

// NewClient 创建 Telegram 客户端
func NewClient(token string, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(60 * time.Second). // 长轮询需要较长超时
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		token:      token,
		logger:     logger,
	}
}

// call 调用 Bot API 方法并校验统一响应外壳
func (c *Client) call(method string, body any, query map[string]string) (*apiResponse, error) {
	var response apiResponse
	req := c.httpClient.R().SetResult(&response)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if query != nil {
		req.SetQueryParams(query)
	}

	resp, err := req.Post(fmt.Sprintf("/bot%s/%s", c.token, method))
	if err != nil {
		return nil, fmt.Errorf("failed to call Telegram API %s: %w", method, err)
	}
	if !response.OK {
		return nil, fmt.Errorf("Telegram API error: %s (http: %d)", response.Description, resp.StatusCode())
	}

	return &response, nil
}

// SendMessage 发送文本消息
func (c *Client) SendMessage(chatID int64, text string) error {
	_, err := c.call("sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}, nil)
	if err != nil {
		return err
	}

	c.logger.Debug("Telegram message sent",
		zap.Int64("chat_id", chatID),
	)
	return nil
}

// SendPhoto 发送本地图片（multipart 上传），caption 可为空
func (c *Client) SendPhoto(chatID int64, imagePath, caption string) error {
	var response apiResponse
	resp, err := c.httpClient.R().
		SetResult(&response).
		SetFile("photo", imagePath).
		SetFormData(map[string]string{
			"chat_id": fmt.Sprintf("%d", chatID),
			"caption": caption,
		}).
		Post(fmt.Sprintf("/bot%s/sendPhoto", c.token))
	if err != nil {
		return fmt.Errorf("failed to call Telegram API sendPhoto: %w", err)
	}
	if !response.OK {
		return fmt.Errorf("Telegram API error: %s (http: %d)", response.Description, resp.StatusCode())
	}

	c.logger.Debug("Telegram photo sent",
		zap.Int64("chat_id", chatID),
		zap.String("image_path", imagePath),
	)
	return nil
}

// SendDocument 发送内存中的文件（multipart 上传）
func (c *Client) SendDocument(chatID int64, fileName string, content []byte, caption string) error {
	var response apiResponse
	resp, err := c.httpClient.R().
		SetResult(&response).
		SetFileReader("document", fileName, bytes.NewReader(content)).
		SetFormData(map[string]string{
			"chat_id": fmt.Sprintf("%d", chatID),
			"caption": caption,
		}).
		Post(fmt.Sprintf("/bot%s/sendDocument", c.token))
	if err != nil {
		return fmt.Errorf("failed to call Telegram API sendDocument: %w", err)
	}
	if !response.OK {
		return fmt.Errorf("Telegram API error: %s (http: %d)", response.Description, resp.StatusCode())
	}

	c.logger.Debug("Telegram document sent",
		zap.Int64("chat_id", chatID),
		zap.String("file_name", fileName),
	)
	return nil
}

// GetUpdates 长轮询拉取更新，offset 为上次处理过的最大 update_id + 1
func (c *Client) GetUpdates(offset int64, timeoutSec int) ([]Update, error) {
	response, err := c.call("getUpdates", nil, map[string]string{
		"offset":  fmt.Sprintf("%d", offset),
		"timeout": fmt.Sprintf("%d", timeoutSec),
	})
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(response.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal updates: %w", err)
	}

	return updates, nil
}

// SetBaseURL 覆盖 API 地址（测试用）
func (c *Client) SetBaseURL(baseURL string) {
	c.httpClient.SetBaseURL(baseURL)
}
