// Package password verifies and produces password hashes.
//
// New hashes are argon2id in PHC form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Imported bcrypt hashes ($2a$, $2b$, $2y$) verify through [Chain] and report
// NeedsRehash so the caller can upgrade them after a successful login.
//
// Plaintext is never logged and the package never touches storage.
package password
