package service

import "fmt"

func passwordResetEmailTemplate(name, resetURL, appName string) (string, string) {
	subject := fmt.Sprintf("Reset your %s password", appName)
	body := fmt.Sprintf(`Hi %s,

Someone asked to reset the password for your %s account. Choose a new one here:
%s

This link can only be used once and expires soon.

If you didn't request this, you can ignore this email. Your password stays the same.

Best,
The %s Team`, name, appName, resetURL, appName)

	return subject, body
}

func welcomeEmailTemplate(name, appURL, appName string) (string, string) {
	subject := fmt.Sprintf("Welcome to %s!", appName)
	body := fmt.Sprintf(`Hi %s,

Your account is ready. Start writing your first memo or task:
%s

Best,
The %s Team`, name, appURL, appName)

	return subject, body
}
