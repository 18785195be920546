package thi

import (
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultSubject = "Telus Health Importer - Notification"

const runClientTimeout = 30 * time.Second

// Run reconciles every pharmacy in the registry against the inventory API,
// strictly in registry order, one at a time. Each pharmacy's chain (resolve
// location, probe the booking site, upsert today's availability) is
// independent: a failure is logged and the run moves on to the next row. No
// retries; the next scheduled run is the recovery mechanism, which the
// get-or-create idempotency makes safe.
func Run(config *Config, registry []PharmacyRecord) *RunTracker {
	runID := uuid.New().String()
	Log.Infof("Starting run %s: %d pharmacies", runID, len(registry))

	//one shared network session for the whole run, released on completion
	client := &http.Client{Timeout: runClientTimeout}
	defer client.CloseIdleConnections()
	defer Cache.Destroy()

	inventory := NewInventoryClient(config, client)
	prober := NewProber(config, client, runID)
	tracker := NewRunTracker()

	for _, rec := range registry {
		if rec.SkipEligible() {
			Log.Debugf("Skipping %s (%s): no postal code", rec.ExternalID, rec.Name)
			tracker.Record(rec.ExternalID, OutcomeSkipped)
			continue
		}

		importPharmacy(inventory, prober, tracker, rec)
	}

	Log.Infof("Run %s finished: %s", runID, tracker.Summary())

	if tracker.Count(OutcomeFailed) >= config.ErrorWarningThreshold {
		if err := notifyFailures(config, runID, tracker); err != nil {
			Log.Errorf("%+v", err)
		}
	}

	return tracker
}

func importPharmacy(inventory *InventoryClient, prober *Prober, tracker *RunTracker, rec PharmacyRecord) {
	Log.Infof("Reconciling %s (%s)", rec.ExternalID, rec.PostalCode)

	locationID, err := inventory.GetOrCreateLocation(rec)
	if err != nil {
		Log.Errorf("%s: get_or_create_location: %v", rec.ExternalID, err)
		tracker.Fail(rec.ExternalID, "get_or_create_location", err)
		return
	}

	available, err := prober.Probe(rec.ExternalID)
	if err != nil {
		//a failed scrape is not "unavailable"; leave today's record alone
		Log.Errorf("%s: probe: %v", rec.ExternalID, err)
		tracker.Fail(rec.ExternalID, "probe", err)
		return
	}

	Log.Infof("%s: available=%v", rec.ExternalID, available)

	availID, created, err := inventory.CreateOrUpdateAvailability(locationID, available)
	if err != nil {
		Log.Errorf("%s: create_or_update_availability: %v", rec.ExternalID, err)
		tracker.Fail(rec.ExternalID, "create_or_update_availability", err)
		return
	}

	if created {
		Log.Debugf("%s: created availability %s", rec.ExternalID, availID)
		tracker.Record(rec.ExternalID, OutcomeCreated)
	} else {
		Log.Debugf("%s: updated availability %s", rec.ExternalID, availID)
		tracker.Record(rec.ExternalID, OutcomeUpdated)
	}
}

func notifyFailures(config *Config, runID string, tracker *RunTracker) error {
	subject := DefaultSubject
	body := fmt.Sprintf("Run %s: %s\n\n%s", runID, tracker.Summary(), strings.Join(tracker.Failures(), "\n"))

	return sendEmail(config, subject, body)
}

func sendEmail(config *Config, subject string, body string) error {
	if len(config.SmtpHost) == 0 {
		return nil
	}

	Log.Infof("Subject: %s", subject)
	Log.Infof("Body: %s", body)

	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	sb.WriteString("\r\n")
	sb.WriteString(body)

	auth := smtp.PlainAuth("", config.SmtpUsername, config.SmtpPassword, config.SmtpHost)

	err := smtp.SendMail(fmt.Sprintf("%s:%d", config.SmtpHost, config.SmtpPort), auth, config.FromEmailAddress, config.NotifyEmailAddrs, []byte(sb.String()))

	if err != nil {
		Log.Errorf("sendEmail: %+v", err)
	}

	return err
}
