// Package browser serves the CMIS browser binding over HTTP: object and
// content reads selected with cmisselector, and writes posted as forms with
// cmisaction.
//
// Routes are rooted at /{repositoryId}/root:
//
//	GET  ?cmisselector=object&objectId=...&returnVersion=latest
//	GET  ?cmisselector=content&objectId=...&offset=100&length=50
//	POST cmisaction=createDocument (multipart/form-data, content part last)
//	POST cmisaction=createFolder|delete|setContent|deleteContent
//
// Failures are reported as {"exception": "...", "message": "..."} with a
// status chosen from the error kind. Content reads answer 200 for the full
// stream and 206 for a range.
package browser
