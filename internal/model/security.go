package model

// PasswordPolicy constrains newly established passwords.
type PasswordPolicy struct {
	MinLength           int  `json:"min_length" mapstructure:"min_length" validate:"gte=1"`
	MaxLength           int  `json:"max_length" mapstructure:"max_length" validate:"gtefield=MinLength,lte=72"`
	RequireUppercase    bool `json:"require_uppercase" mapstructure:"require_uppercase"`
	RequireLowercase    bool `json:"require_lowercase" mapstructure:"require_lowercase"`
	RequireNumbers      bool `json:"require_numbers" mapstructure:"require_numbers"`
	RequireSpecialChars bool `json:"require_special_chars" mapstructure:"require_special_chars"`
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		MaxLength:        72,
		RequireLowercase: true,
		RequireNumbers:   true,
	}
}
