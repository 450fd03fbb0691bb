// Package gearimport fetches BiS lists from an external gear planner.
package gearimport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kasuganosora/raidloot/server/cache"
	"github.com/kasuganosora/raidloot/server/config"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"go.uber.org/zap"
)

const cachePrefix = "gearset:"

type remoteItem struct {
	Slot   string `json:"slot"`
	Source string `json:"source"`
}

type remoteSet struct {
	Items []remoteItem `json:"items"`
}

// Client fetches gear sets by link. Successful fetches are cached per link.
type Client struct {
	http     *resty.Client
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewClient(cfg config.GearImportConfig, c cache.Cache, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{http: hc, cache: c, cacheTTL: cfg.CacheTTL, logger: logger}
}

// Fetch returns the ordered item list behind link. An unknown link is a
// NotFoundError; an item the planner describes with an unknown slot or
// source is a ValidationError.
func (c *Client) Fetch(ctx context.Context, link string) ([]model.GearItem, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, raid.Invalid("link", "required")
	}
	if items, ok := c.cached(ctx, link); ok {
		return items, nil
	}

	var body remoteSet
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/gearsets/" + url.PathEscape(link))
	if err != nil {
		return nil, fmt.Errorf("fetch gear set %q: %w", link, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, raid.NotFound("gearset", link)
	case resp.IsError():
		c.logger.Warn("gear planner returned an error",
			zap.String("link", link),
			zap.Int("status_code", resp.StatusCode()))
		return nil, fmt.Errorf("fetch gear set %q: status %d", link, resp.StatusCode())
	}

	items, err := convert(body.Items)
	if err != nil {
		return nil, err
	}
	c.store(ctx, link, items)
	c.logger.Info("gear set fetched", zap.String("link", link), zap.Int("items", len(items)))
	return items, nil
}

func (c *Client) cached(ctx context.Context, link string) ([]model.GearItem, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, cachePrefix+link)
	if err != nil {
		if !cache.IsMiss(err) {
			c.logger.Warn("gear set cache read failed", zap.String("link", link), zap.Error(err))
		}
		return nil, false
	}
	var items []model.GearItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, false
	}
	return items, true
}

func (c *Client) store(ctx context.Context, link string, items []model.GearItem) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cachePrefix+link, string(b), c.cacheTTL); err != nil {
		c.logger.Warn("gear set cache write failed", zap.String("link", link), zap.Error(err))
	}
}

func convert(in []remoteItem) ([]model.GearItem, error) {
	out := make([]model.GearItem, 0, len(in))
	for i, it := range in {
		slot := model.Slot(it.Slot)
		if !slot.Valid() {
			return nil, raid.Invalid(fmt.Sprintf("items[%d].slot", i), fmt.Sprintf("unknown slot %q", it.Slot))
		}
		var kind model.ItemKind
		switch strings.ToLower(it.Source) {
		case "raid":
			kind = model.ItemKindRaid
		case "tome", "augmented_tome", "augmentedtome":
			kind = model.ItemKindAugmentedTome
		default:
			return nil, raid.Invalid(fmt.Sprintf("items[%d].source", i), fmt.Sprintf("unknown source %q", it.Source))
		}
		out = append(out, model.GearItem{
			Slot:            slot,
			Kind:            kind,
			RequiresUpgrade: kind == model.ItemKindAugmentedTome,
		})
	}
	return out, nil
}
