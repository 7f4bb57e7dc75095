/*
Package workspace manages the per-cluster working directory terraform runs in.

Each cluster owns <clusters_dir>/<hostname>/, holding the rendered main.tf.json,
the binary plan and its JSON rendering, the terraform state and the plan/apply
logs. No two clusters share a directory.

Logs are rotated before every run: terraform_apply.log becomes
terraform_apply.log.1, the previous .1 becomes .2, and so on, renaming the
highest suffix first so a rotation never overwrites history.
*/
package workspace
