package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tournav/internal/metrics"
	"tournav/internal/model"
)

// Client fetches the day's tour manifest page by page using the tenant's
// current session. A 401 triggers exactly one re-authentication through the
// SessionManager; a second 401 is fatal.
type Client struct {
	TourURL     string
	HTTP        *http.Client
	Sessions    *SessionManager
	MaxAttempts int // per page, transient failures
	Backoff     time.Duration
}

func NewClient(tourURL string, sessions *SessionManager) *Client {
	return &Client{
		TourURL:     tourURL,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
		Sessions:    sessions,
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
	}
}

type tourPage struct {
	DriverRef string        `json:"driverRef"`
	Packages  []pagePackage `json:"packages"`
	NextPage  int           `json:"nextPage"` // 0 signals end of data
}

type pagePackage struct {
	TrackingNumber string   `json:"trackingNumber"`
	RecipientName  string   `json:"recipientName"`
	Address        string   `json:"address"`
	Status         string   `json:"status"`
	Instructions   string   `json:"instructions"`
	Phone          string   `json:"phone"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
}

// FetchManifest retrieves all pages for the tenant's tour on the given date.
// Pages fetched before a permanent page failure are returned as a partial
// manifest with the failure recorded, rather than discarding progress.
func (c *Client) FetchManifest(ctx context.Context, tenantID, date string) (model.TourManifest, error) {
	sess, err := c.Sessions.Session(ctx, tenantID)
	if err != nil {
		return model.TourManifest{}, err
	}

	m := model.TourManifest{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		TourDate:  date,
		FetchedAt: time.Now().UTC(),
	}

	reauthed := false
	for page := 1; ; {
		tp, status, err := c.fetchPage(ctx, sess.Token, date, page)
		if status == http.StatusUnauthorized {
			if reauthed {
				return model.TourManifest{}, fmt.Errorf("tenant %s: token rejected twice for %s: %w", tenantID, date, ErrAuthentication)
			}
			reauthed = true
			c.Sessions.Invalidate(ctx, tenantID)
			sess, err = c.Sessions.Session(ctx, tenantID)
			if err != nil {
				return model.TourManifest{}, err
			}
			continue // retry the same page once with the fresh token
		}
		if err != nil {
			// Transient budget for this page is spent. Keep what we have.
			m.Partial = true
			m.FetchErrors = append(m.FetchErrors, fmt.Sprintf("page %d: %v", page, err))
			metrics.TourPages.WithLabelValues("failed").Inc()
			break
		}
		metrics.TourPages.WithLabelValues("ok").Inc()
		if m.DriverRef == "" {
			m.DriverRef = tp.DriverRef
		}
		for _, pp := range tp.Packages {
			m.Packages = append(m.Packages, toRecord(pp, len(m.Packages)))
		}
		if tp.NextPage <= 0 {
			break
		}
		page = tp.NextPage
	}
	return m, nil
}

// fetchPage performs one page GET with bounded retries on network errors
// and 5xx. A 401 is returned immediately via the status result.
func (c *Client) fetchPage(ctx context.Context, token, date string, page int) (tourPage, int, error) {
	url := fmt.Sprintf("%s/tours/%s?page=%d", c.TourURL, date, page)
	var lastErr error
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return tourPage{}, 0, ctx.Err()
			case <-time.After(c.Backoff * (1 << (attempt - 1))):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return tourPage{}, 0, err
		}
		req.Header.Set("Authorization", token)
		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return tourPage{}, http.StatusUnauthorized, nil
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return tourPage{}, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		var tp tourPage
		err = json.NewDecoder(resp.Body).Decode(&tp)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("decode page: %w", err)
			continue
		}
		return tp, http.StatusOK, nil
	}
	return tourPage{}, 0, fmt.Errorf("after %d attempts: %v: %w", c.MaxAttempts, lastErr, ErrUnavailable)
}

func toRecord(pp pagePackage, seq int) model.PackageRecord {
	rec := model.PackageRecord{
		TrackingNumber: pp.TrackingNumber,
		RecipientName:  pp.RecipientName,
		RawAddress:     pp.Address,
		Instructions:   pp.Instructions,
		Phone:          pp.Phone,
		SequenceIndex:  seq,
		DeliveryState:  mapStatus(pp.Status),
	}
	if pp.Latitude != nil && pp.Longitude != nil {
		rec.Coordinates = &model.GeoPoint{Lat: *pp.Latitude, Lng: *pp.Longitude}
	}
	return rec
}

func mapStatus(s string) model.DeliveryState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delivered", "livre":
		return model.StateDelivered
	case "failed", "echec":
		return model.StateFailed
	default:
		return model.StatePending
	}
}
