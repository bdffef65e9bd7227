package policy

// Precedence tiers, lowest to highest.
const (
	TierGlobal   = "Global"
	TierPolicy   = "Policy"
	TierOverride = "UserOverride"
)

// Namespace2FA governs two-factor-authentication settings.
const Namespace2FA = "2fa"

// Setting keys for the 2FA namespace.
const (
	SettingEnabled          = "Enabled"
	SettingRequired         = "Required"
	SettingOTPExpiryMinutes = "OTPExpiryMinutes"
	SettingMaxOTPAttempts   = "MaxOTPAttempts"
)

// Defaults maps a namespace to its compiled-in baseline. The baseline backs
// every resolution so a subject with no role policy and no override still
// gets a complete value set. Database-level globals layer on top of these
// inside the Global tier.
type Defaults map[string]Settings

// BuiltinDefaults returns the baseline for every known namespace.
func BuiltinDefaults() Defaults {
	return Defaults{
		Namespace2FA: {
			SettingEnabled:          "true",
			SettingRequired:         "false",
			SettingOTPExpiryMinutes: "10",
			SettingMaxOTPAttempts:   "5",
		},
	}
}
