package dptx

import (
	"fmt"
	"time"

	"github.com/hwplane/mhdp/internal/mbox"
)

// Link-training poll policy.
const (
	trainingRetry   = 20 * time.Millisecond
	trainingTimeout = 500 * time.Millisecond
)

// SetLink records the link parameters the host will request during
// capability negotiation and training.
func (d *Device) SetLink(link LinkState) {
	d.mu.Lock()
	d.link = link
	d.mu.Unlock()
}

// TrainLink runs the full training sequence: start training, poll the
// event channel until the equalization phase finishes, then read the
// negotiated parameters into the device link state. The sequence is
// not resumable; any failure aborts it and callers re-invoke TrainLink
// themselves.
func (d *Device) TrainLink() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.trainingStart(); err != nil {
		d.log.Error("failed to start training", "err", err)
		return err
	}
	if err := d.readTrainingStatus(); err != nil {
		d.log.Error("failed to get training status", "err", err)
		return err
	}
	d.log.Debug("link trained", "rate", d.link.Rate, "lanes", d.link.Lanes)
	return nil
}

// trainingStart issues the training-control command and polls the
// event channel until the firmware reports the equalization phase
// finished or the training deadline elapses.
func (d *Device) trainingStart() error {
	req := [1]byte{linkTrainingRun}
	if err := d.mbx.Send(ModuleIDDPTX, opDPTXTrainingControl, req[:]); err != nil {
		return err
	}

	deadline := d.clock.Now().Add(trainingTimeout)
	for d.clock.Now().Before(deadline) {
		d.clock.Sleep(trainingRetry)

		var event [2]byte
		if err := d.exchange(ModuleIDDPTX, opDPTXReadEvent, nil, event[:]); err != nil {
			return err
		}
		if event[1]&eqPhaseFinished != 0 {
			return nil
		}
	}
	return fmt.Errorf("link training: %w", mbox.ErrTimeout)
}

// readTrainingStatus queries the detailed link status and decodes the
// negotiated rate and lane count.
func (d *Device) readTrainingStatus() error {
	var status [10]byte
	if err := d.exchange(ModuleIDDPTX, opDPTXReadLinkStat, nil, status[:]); err != nil {
		return err
	}
	d.link.Rate = bwCodeToLinkRate(status[0])
	d.link.Lanes = status[1]
	return nil
}
