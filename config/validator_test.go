package config

import (
	"errors"
	"testing"
)

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *LAMConfig
		wantErr error
	}{
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: ErrConfigEmpty,
		},
		{
			name: "empty namespace",
			cfg: &LAMConfig{
				MaxConcurrent: 1,
				RetryPolicy:   RetryPolicyConfig{InitialIntervalMs: 1000, BackoffCoefficient: 2},
			},
			wantErr: ErrNamespaceEmpty,
		},
		{
			name: "zero max concurrent",
			cfg: &LAMConfig{
				Namespace:   "ns",
				RetryPolicy: RetryPolicyConfig{InitialIntervalMs: 1000, BackoffCoefficient: 2},
			},
			wantErr: ErrMaxConcurrentInvalid,
		},
		{
			name: "negative local retry threshold",
			cfg: &LAMConfig{
				Namespace:             "ns",
				MaxConcurrent:         1,
				LocalRetryThresholdMs: -1,
				RetryPolicy:           RetryPolicyConfig{InitialIntervalMs: 1000, BackoffCoefficient: 2},
			},
			wantErr: ErrRetryPolicyInvalid,
		},
		{
			name: "zero initial interval",
			cfg: &LAMConfig{
				Namespace:     "ns",
				MaxConcurrent: 1,
				RetryPolicy:   RetryPolicyConfig{BackoffCoefficient: 2},
			},
			wantErr: ErrRetryPolicyInvalid,
		},
		{
			name: "coefficient below one",
			cfg: &LAMConfig{
				Namespace:     "ns",
				MaxConcurrent: 1,
				RetryPolicy:   RetryPolicyConfig{InitialIntervalMs: 1000, BackoffCoefficient: 0.5},
			},
			wantErr: ErrRetryPolicyInvalid,
		},
		{
			name: "max interval below initial",
			cfg: &LAMConfig{
				Namespace:     "ns",
				MaxConcurrent: 1,
				RetryPolicy: RetryPolicyConfig{
					InitialIntervalMs: 5000, BackoffCoefficient: 2, MaxIntervalMs: 1000,
				},
			},
			wantErr: ErrRetryPolicyInvalid,
		},
		{
			name: "valid config",
			cfg: &LAMConfig{
				Namespace:             "ns",
				MaxConcurrent:         5,
				LocalRetryThresholdMs: 5000,
				RetryPolicy: RetryPolicyConfig{
					InitialIntervalMs:  1000,
					BackoffCoefficient: 10,
					MaxIntervalMs:      10000,
					MaxAttempts:        10,
				},
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator().Validate(tt.cfg)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
