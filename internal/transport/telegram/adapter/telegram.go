package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "postbot/internal/runtime/supervisor"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (tests, local bot api server).
	APIURL      string
	PollTimeout time.Duration
	// Offline skips the getMe handshake; outbound calls still hit APIURL.
	Offline bool
	Client  *http.Client
}

// Adapter implements kit.Adapter on top of telebot.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates uint64
}

var _ kit.Adapter = (*Adapter)(nil)

// chatRecipient lets both "@channel" and "-100..." ids be used as chat_id.
type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout + 20*time.Second}
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Client:  client,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, http: client, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, Text: m.Text}
		if m.Sender != nil {
			msg.FromID = m.Sender.ID
			msg.FromUsername = m.Sender.Username
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

// Start begins long polling; updates are forwarded to out without blocking.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)))
				}
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// telebot's Start can return unexpectedly; keep it under a restart loop.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, 500*time.Millisecond, 10*time.Second)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt == nil {
		return so
	}
	so.ParseMode = tele.ParseMode(opt.ParseMode)
	so.DisableWebPagePreview = opt.DisablePreview
	if !opt.Keyboard.Empty() {
		so.ReplyMarkup = keyboardMarkup(opt.Keyboard)
	}
	return so
}

func keyboardMarkup(k *kit.Keyboard) *tele.ReplyMarkup {
	in := tgui.NewInline()
	for _, row := range k.Rows {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgui.URLBtn(b.Text, b.URL))
		}
		in.Row(btns...)
	}
	return in.Markup()
}

// SendText sends text to a chat, splitting it into several messages when it
// exceeds Telegram's limit. The reference of the first message is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(to, opt)
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chatRecipient(to.ChatID), chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendPhoto uploads Data as multipart when present, otherwise lets Telegram
// fetch URL itself.
func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	switch {
	case len(photo.Data) > 0:
		return a.uploadPhoto(ctx, to, photo, caption, opt)
	case photo.URL != "":
	default:
		return kit.MessageRef{}, errors.New("telegram: photo has neither data nor url")
	}
	p := &tele.Photo{File: tele.FromURL(photo.URL), Caption: caption}
	msg, err := a.bot.Send(chatRecipient(to.ChatID), p, sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

// uploadPhoto posts sendPhoto as multipart itself: telebot leaves the file
// part unnamed for photos and Telegram then treats it as a plain field.
func (a *Adapter) uploadPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	name := strings.TrimSpace(photo.FileName)
	if name == "" {
		name = "image.jpg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"chat_id": to.ChatID,
		"caption": caption,
	}
	if to.ThreadID != 0 {
		fields["message_thread_id"] = strconv.Itoa(to.ThreadID)
	}
	if opt != nil {
		if opt.ParseMode != "" {
			fields["parse_mode"] = opt.ParseMode
		}
		if !opt.Keyboard.Empty() {
			mk, err := json.Marshal(keyboardMarkup(opt.Keyboard))
			if err != nil {
				return kit.MessageRef{}, err
			}
			fields["reply_markup"] = string(mk)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return kit.MessageRef{}, err
		}
	}
	fw, err := mw.CreateFormFile("photo", name)
	if err != nil {
		return kit.MessageRef{}, err
	}
	if _, err := fw.Write(photo.Data); err != nil {
		return kit.MessageRef{}, err
	}
	if err := mw.Close(); err != nil {
		return kit.MessageRef{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.methodURL("sendPhoto"), &body)
	if err != nil {
		return kit.MessageRef{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.http.Do(req)
	if err != nil {
		return kit.MessageRef{}, err
	}
	defer resp.Body.Close()

	var out struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return kit.MessageRef{}, fmt.Errorf("telegram sendPhoto failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return kit.MessageRef{}, fmt.Errorf("telegram sendPhoto failed: http=%d", resp.StatusCode)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: out.Result.MessageID}, nil
}

func (a *Adapter) methodURL(method string) string {
	base := strings.TrimRight(a.cfg.APIURL, "/")
	if base == "" {
		base = tele.DefaultApiURL
	}
	return base + "/bot" + strings.TrimSpace(a.cfg.Token) + "/" + method
}

// Delete removes a message. Raw is used because telebot's Delete only
// addresses chats by numeric id.
func (a *Adapter) Delete(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Raw("deleteMessage", map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	})
	return err
}
