package broadcast

import (
	"context"
	"errors"
	"strings"

	"clinicq/internal/auth"
	"clinicq/internal/models"
	"clinicq/internal/store"
)

var ErrChannelForbidden = errors.New("channel access denied")

type DoctorLookup interface {
	GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error)
}

// Authorizer decides whether an identity may subscribe to a channel. Public
// channels are open; presence channels belong to the owning clinic.
type Authorizer struct {
	doctors DoctorLookup
}

func NewAuthorizer(doctors DoctorLookup) *Authorizer {
	return &Authorizer{doctors: doctors}
}

func (a *Authorizer) Authorize(ctx context.Context, identity auth.Identity, channel string) error {
	if IsPublic(channel) {
		return nil
	}
	if !identity.IsClinic() {
		return ErrChannelForbidden
	}
	if clinicID, ok := strings.CutPrefix(channel, presencePrefix+"clinic-"); ok {
		if clinicID == identity.Subject {
			return nil
		}
		return ErrChannelForbidden
	}
	if doctorID, ok := strings.CutPrefix(channel, presencePrefix+"doctor-"); ok {
		doctor, err := a.doctors.GetDoctor(ctx, doctorID)
		if err != nil {
			if errors.Is(err, store.ErrDoctorNotFound) {
				return ErrChannelForbidden
			}
			return err
		}
		if doctor.ClinicID == identity.Subject {
			return nil
		}
	}
	return ErrChannelForbidden
}
